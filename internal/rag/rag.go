package rag

import (
	"context"
	"fmt"
	"strings"

	"knowthecode/internal/embedder"
	"knowthecode/internal/llm"
	"knowthecode/internal/store"
)

const systemPrompt = `You are a code assistant. You answer questions about a repository using the retrieved source code context provided below.

Reference specific file paths and line numbers when relevant. Be concise and include examples when relevant. Keep answers grounded in the provided context; if the context doesn't contain enough information to answer, say so.`

// NoContextAnswer is the deterministic response for a question against a
// namespace with no retrievable chunks. The LLM is never invoked for it.
const NoContextAnswer = "No relevant information found in the repository."

// Answer is a generated response with the chunks actually included in its
// context, so callers can show provenance.
type Answer struct {
	Text      string
	Chunks    []store.SearchResult
	NoContext bool
}

// Options bounds retrieval and context assembly.
type Options struct {
	// DefaultTopK is used when the caller passes topK <= 0.
	DefaultTopK int
	// MaxTopK clamps caller-provided topK.
	MaxTopK int
	// ContextBudget is the maximum assembled context size in bytes.
	ContextBudget int
}

// DefaultOptions keeps the context well inside typical model windows.
func DefaultOptions() Options {
	return Options{
		DefaultTopK:   5,
		MaxTopK:       20,
		ContextBudget: 24_000,
	}
}

// Coordinator answers questions against one repository namespace. The query
// is embedded with the same model used for indexing so the embedding spaces
// match.
type Coordinator struct {
	store    store.Store
	embedder embedder.Embedder
	llm      llm.Generator
	opts     Options
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(s store.Store, emb embedder.Embedder, gen llm.Generator, opts Options) *Coordinator {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultOptions().DefaultTopK
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = DefaultOptions().MaxTopK
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = DefaultOptions().ContextBudget
	}
	return &Coordinator{store: s, embedder: emb, llm: gen, opts: opts}
}

// Answer retrieves the topK nearest chunks in the repository's namespace,
// assembles a budget-bounded context, and asks the LLM. Zero retrieved
// chunks short-circuit to NoContextAnswer without an LLM call.
func (c *Coordinator) Answer(ctx context.Context, repoID, question string, topK int) (*Answer, error) {
	if topK <= 0 {
		topK = c.opts.DefaultTopK
	}
	if topK > c.opts.MaxTopK {
		topK = c.opts.MaxTopK
	}

	vecs, err := c.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := c.store.Query(repoID, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", repoID, err)
	}
	if len(results) == 0 {
		return &Answer{Text: NoContextAnswer, NoContext: true}, nil
	}

	included, contextText := AssembleContext(results, c.opts.ContextBudget)
	if len(included) == 0 {
		return &Answer{Text: NoContextAnswer, NoContext: true}, nil
	}

	answer, err := c.llm.Generate(ctx, BuildMessages(contextText, question))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &Answer{Text: answer, Chunks: included}, nil
}

// AssembleContext concatenates chunk texts with file/line headers in
// descending similarity order until the byte budget would be exceeded.
// Chunks are dropped whole from the low-similarity end, never truncated
// mid-chunk.
func AssembleContext(results []store.SearchResult, budget int) ([]store.SearchResult, string) {
	var b strings.Builder
	var included []store.SearchResult

	for _, r := range results {
		block := formatChunk(r.Chunk)
		if b.Len()+len(block) > budget {
			break
		}
		b.WriteString(block)
		included = append(included, r)
	}
	return included, b.String()
}

func formatChunk(c store.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (lines %d-%d", c.Path, c.StartLine, c.EndLine)
	if c.Name != "" {
		fmt.Fprintf(&b, ", %s %s", c.Kind, c.Name)
	}
	b.WriteString(") ---\n")
	b.WriteString(c.Content)
	b.WriteString("\n\n")
	return b.String()
}

// BuildMessages constructs the conversation for the LLM from the assembled
// context and the current question.
func BuildMessages(contextText, question string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", contextText, question)},
	}
}
