package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Chunk is one coherent unit of a source file: a function, method, type or,
// for files without a grammar, a window of lines. Line ranges within a file
// are non-overlapping, ordered, and together cover the whole file.
type Chunk struct {
	ID        string
	Name      string
	Kind      string
	Language  string
	StartLine int
	EndLine   int
	Content   string
}

// Lines returns the number of lines the chunk spans.
func (c Chunk) Lines() int { return c.EndLine - c.StartLine + 1 }

// Options bounds chunk sizes.
type Options struct {
	// MaxLines splits any chunk spanning more lines into contiguous parts.
	MaxLines int
	// MinLines merges a smaller chunk into its next sibling when the result
	// stays within MaxLines.
	MinLines int
	// FallbackWindow is the window size for files without a usable grammar.
	FallbackWindow int
}

// DefaultOptions are tuned so a chunk stays well inside typical embedding
// token limits.
func DefaultOptions() Options {
	return Options{
		MaxLines:       120,
		MinLines:       3,
		FallbackWindow: 60,
	}
}

// Engine converts file content into chunks, using a tree-sitter grammar when
// one is registered for the file and line-window chunking otherwise.
type Engine struct {
	registry *Registry
	opts     Options
}

// NewEngine creates a chunking engine backed by the given registry.
func NewEngine(r *Registry, opts Options) *Engine {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultOptions().MaxLines
	}
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = DefaultOptions().FallbackWindow
	}
	return &Engine{registry: r, opts: opts}
}

// ChunkFile chunks a single file. It never fails: a grammar that is missing
// or errors out degrades to fallback chunking, and a file with no content
// yields zero chunks.
func (e *Engine) ChunkFile(path string, src []byte) []Chunk {
	lines := strings.Split(string(src), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1] // trailing newline is not a line
	}
	if allBlank(lines) {
		return nil
	}

	spec := e.registry.Lookup(path)
	if spec == nil {
		return e.fallback(path, "unknown", lines)
	}

	spans, err := extractSpans(spec, src)
	if err != nil {
		return e.fallback(path, spec.Name, lines)
	}
	if len(spans) == 0 {
		// No chunkable nodes: the whole file is one chunk.
		spans = []span{{startLine: 1, endLine: len(lines), kind: "file"}}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].startLine < spans[j].startLine })
	spans = coverGaps(spans, len(lines))
	spans = mergeSmall(spans, e.opts.MinLines, e.opts.MaxLines)
	spans = splitOversized(spans, e.opts.MaxLines)

	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		content := strings.Join(lines[sp.startLine-1:sp.endLine], "\n")
		chunks = append(chunks, Chunk{
			ID:        ChunkID(path, sp.startLine, sp.endLine, content),
			Name:      sp.name,
			Kind:      sp.kind,
			Language:  spec.Name,
			StartLine: sp.startLine,
			EndLine:   sp.endLine,
			Content:   content,
		})
	}
	return chunks
}

// span is a chunk boundary before content is materialized.
type span struct {
	name      string
	kind      string
	startLine int
	endLine   int
	startByte uint32
	endByte   uint32
}

func (s span) lines() int { return s.endLine - s.startLine + 1 }

// extractSpans parses the source and runs the language query. A tree that
// parses partially still yields spans for every node matched before the
// error point; only a hard parse failure returns an error.
func extractSpans(spec *LanguageSpec, src []byte) ([]span, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", spec.Name, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var spans []span
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var chunkNode *sitter.Node
		var nameStr string
		for _, cap := range m.Captures {
			switch q.CaptureNameForId(cap.Index) {
			case "chunk":
				chunkNode = cap.Node
			case "name":
				nameStr = cap.Node.Content(src)
			}
		}
		if chunkNode == nil {
			continue
		}
		spans = append(spans, span{
			name:      nameStr,
			kind:      chunkNode.Type(),
			startLine: int(chunkNode.StartPoint().Row) + 1,
			endLine:   int(chunkNode.EndPoint().Row) + 1,
			startByte: chunkNode.StartByte(),
			endByte:   chunkNode.EndByte(),
		})
	}

	return dedup(spans), nil
}

// dedup removes spans fully contained within a larger span, keeping the
// outer node (a method captured inside its captured class is dropped).
func dedup(spans []span) []span {
	if len(spans) <= 1 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].startByte != spans[j].startByte {
			return spans[i].startByte < spans[j].startByte
		}
		return (spans[i].endByte - spans[i].startByte) > (spans[j].endByte - spans[j].startByte)
	})

	var result []span
	var lastEnd uint32
	for _, s := range spans {
		if s.startByte >= lastEnd || lastEnd == 0 {
			result = append(result, s)
			if s.endByte > lastEnd {
				lastEnd = s.endByte
			}
		}
	}
	return result
}

// coverGaps widens spans so consecutive chunks partition the file's full
// line range: the first chunk absorbs leading comments and imports, each
// chunk absorbs the gap before the next, and the last one runs to EOF.
func coverGaps(spans []span, totalLines int) []span {
	var out []span
	prevEnd := 0
	for _, s := range spans {
		s.startLine = prevEnd + 1
		if s.endLine > totalLines {
			s.endLine = totalLines
		}
		if s.startLine > s.endLine {
			continue // swallowed by an earlier span
		}
		out = append(out, s)
		prevEnd = s.endLine
	}
	if len(out) > 0 && out[len(out)-1].endLine < totalLines {
		out[len(out)-1].endLine = totalLines
	}
	return out
}

// mergeSmall folds a span shorter than minLines into its next sibling when
// the merged span stays within maxLines. Near-empty chunks add retrieval
// noise without adding signal.
func mergeSmall(spans []span, minLines, maxLines int) []span {
	if minLines <= 0 || len(spans) < 2 {
		return spans
	}
	var out []span
	for i := 0; i < len(spans); i++ {
		s := spans[i]
		for i+1 < len(spans) && s.lines() < minLines &&
			s.lines()+spans[i+1].lines() <= maxLines {
			next := spans[i+1]
			if s.name == "" {
				s.name = next.name
				s.kind = next.kind
			}
			s.endLine = next.endLine
			i++
		}
		out = append(out, s)
	}
	return out
}

// splitOversized splits spans longer than maxLines into contiguous parts at
// line boundaries, preserving order. Parts keep the parent's symbol name
// with a part suffix.
func splitOversized(spans []span, maxLines int) []span {
	var out []span
	for _, s := range spans {
		if s.lines() <= maxLines {
			out = append(out, s)
			continue
		}
		part := 1
		for start := s.startLine; start <= s.endLine; start += maxLines {
			end := start + maxLines - 1
			if end > s.endLine {
				end = s.endLine
			}
			p := s
			p.startLine = start
			p.endLine = end
			if p.name != "" {
				p.name = fmt.Sprintf("%s#part%d", s.name, part)
			}
			out = append(out, p)
			part++
		}
	}
	return out
}

// ChunkID derives a stable chunk identifier from the file path, line range,
// and a hash of the content. Identical content at the same location always
// produces the same id.
func ChunkID(path string, startLine, endLine int, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d-%d\x00%s", path, startLine, endLine, hex.EncodeToString(contentHash[:]))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
