package ingest

import (
	"fmt"
	"path/filepath"

	"knowthecode/internal/chunker"
	"knowthecode/internal/chunker/languages"
	"knowthecode/internal/embedder"
	"knowthecode/internal/fetcher"
	"knowthecode/internal/store"
	"knowthecode/internal/walker"
)

// DefaultTextExtensions are non-grammar file types worth indexing through
// fallback chunking.
var DefaultTextExtensions = []string{"md", "txt", "rst", "yaml", "yml", "toml", "json", "sql", "sh"}

// Config holds the orchestrator configuration.
type Config struct {
	// HomeDir is the working directory holding the index database and
	// cloned repositories. Defaults to ~/.knowthecode.
	HomeDir string

	OllamaURL  string
	EmbedModel string
	Dimensions int

	// BatchSize bounds the number of chunks per embedding request.
	BatchSize int
	// Concurrency bounds in-flight embedding requests.
	Concurrency int

	MaxChunkLines  int
	MinChunkLines  int
	FallbackWindow int

	// ExtraExtensions extends the allowlist beyond grammar-backed ones.
	ExtraExtensions []string
	// ExcludeDirs overrides the directory denylist. Nil means defaults.
	ExcludeDirs []string
	MaxFileSize int64

	Retry RetryConfig
}

// Ingestor drives the full pipeline: fetch, select, chunk, gate, embed,
// upsert.
type Ingestor struct {
	store    store.Store
	fetcher  fetcher.Fetcher
	engine   *chunker.Engine
	registry *chunker.Registry
	embedder embedder.Embedder
	cfg      Config
	locks    *repoLocks
}

// New creates an Ingestor with the given configuration, opening the index
// database under cfg.HomeDir.
func New(cfg Config) (*Ingestor, error) {
	applyDefaults(&cfg)

	s, err := store.Open(filepath.Join(cfg.HomeDir, "index.db"), cfg.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := chunker.NewRegistry()
	languages.RegisterGo(reg)
	languages.RegisterJavaScript(reg)
	languages.RegisterTypeScript(reg)
	languages.RegisterPython(reg)

	emb := embedder.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbedModel)

	return newIngestor(cfg, s, fetcher.NewGitFetcher(filepath.Join(cfg.HomeDir, "repos")), reg, emb), nil
}

// newIngestor wires an Ingestor from explicit collaborators. Tests inject
// fakes through this path.
func newIngestor(cfg Config, s store.Store, f fetcher.Fetcher, reg *chunker.Registry, emb embedder.Embedder) *Ingestor {
	applyDefaults(&cfg)
	return &Ingestor{
		store:    s,
		fetcher:  f,
		engine: chunker.NewEngine(reg, chunker.Options{
			MaxLines:       cfg.MaxChunkLines,
			MinLines:       cfg.MinChunkLines,
			FallbackWindow: cfg.FallbackWindow,
		}),
		registry: reg,
		embedder: emb,
		cfg:      cfg,
		locks:    newRepoLocks(),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.ExtraExtensions == nil {
		cfg.ExtraExtensions = DefaultTextExtensions
	}
}

// extensions returns the walk allowlist: every grammar-backed extension
// plus the configured text extensions.
func (ing *Ingestor) extensions() map[string]bool {
	exts := ing.registry.Extensions()
	for _, e := range ing.cfg.ExtraExtensions {
		exts[e] = true
	}
	return exts
}

func (ing *Ingestor) walkOptions() walker.Options {
	return walker.Options{
		Extensions:  ing.extensions(),
		ExcludeDirs: ing.cfg.ExcludeDirs,
		MaxFileSize: ing.cfg.MaxFileSize,
	}
}

// Store exposes the underlying store so the query side and the CLI share
// one handle.
func (ing *Ingestor) Store() store.Store { return ing.store }

// Close releases resources.
func (ing *Ingestor) Close() error {
	return ing.store.Close()
}
