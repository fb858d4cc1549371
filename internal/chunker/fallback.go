package chunker

import "strings"

// fallback chunks a file into fixed-size line windows with zero overlap.
// Used when no grammar is registered for the file or parsing failed. Any
// file with at least one non-blank line yields at least one chunk.
func (e *Engine) fallback(path, language string, lines []string) []Chunk {
	window := e.opts.FallbackWindow

	var chunks []Chunk
	for start := 1; start <= len(lines); start += window {
		end := start + window - 1
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.Join(lines[start-1:end], "\n")
		chunks = append(chunks, Chunk{
			ID:        ChunkID(path, start, end, content),
			Kind:      "window",
			Language:  language,
			StartLine: start,
			EndLine:   end,
			Content:   content,
		})
	}
	return chunks
}
