package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowthecode/internal/chunker"
	"knowthecode/internal/embedder"
	"knowthecode/internal/fingerprint"
	"knowthecode/internal/store"
)

// fakeStore is an in-memory store.Store for pipeline tests.
type fakeStore struct {
	mu          sync.Mutex
	chunks      map[string]map[string]store.Chunk // namespace -> chunk id -> chunk
	fps         map[string]*fingerprint.Fingerprint
	deleted     []string
	upsertCalls int
	upsertErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chunks: make(map[string]map[string]store.Chunk),
		fps:    make(map[string]*fingerprint.Fingerprint),
	}
}

func (s *fakeStore) Upsert(namespace string, chunks []store.Chunk, embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	ns := s.chunks[namespace]
	if ns == nil {
		ns = make(map[string]store.Chunk)
		s.chunks[namespace] = ns
	}
	for _, c := range chunks {
		ns[c.ID] = c
	}
	return nil
}

func (s *fakeStore) Query(namespace string, embedding []float32, k int) ([]store.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SearchResult
	for _, c := range s.chunks[namespace] {
		if len(out) == k {
			break
		}
		out = append(out, store.SearchResult{Chunk: c, Score: 1})
	}
	return out, nil
}

func (s *fakeStore) NamespaceExists(namespace string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[namespace]) > 0, nil
}

func (s *fakeStore) DeleteNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, namespace)
	delete(s.chunks, namespace)
	delete(s.fps, namespace)
	return nil
}

func (s *fakeStore) ListRepos() ([]store.RepoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.RepoRecord
	for id, fp := range s.fps {
		out = append(out, store.RepoRecord{ID: id, ChunkCount: fp.ChunkCount, IndexedAt: fp.CreatedAt})
	}
	return out, nil
}

func (s *fakeStore) GetFingerprint(repoID string) (*fingerprint.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps[repoID], nil
}

func (s *fakeStore) PutFingerprint(fp fingerprint.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps[fp.RepoID] = &fp
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) chunkCount(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[namespace])
}

// fakeEmbedder returns constant vectors and can fail specific calls.
type fakeEmbedder struct {
	mu     sync.Mutex
	model  string
	calls  int
	failOn map[int]error // 1-based call number -> error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{model: "test-embed", failOn: make(map[int]error)}
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if err := e.failOn[e.calls]; err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) Model() string { return e.model }

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubFetcher returns a fixed local root for any source.
type stubFetcher struct{ root string }

func (f stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.root, nil
}

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig() Config {
	return Config{
		BatchSize:   1, // one chunk per batch, so batch counts are predictable
		Concurrency: 2,
		Retry: RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Multiplier:  1,
		},
	}
}

func testIngestor(t *testing.T, root string, s *fakeStore, emb *fakeEmbedder) *Ingestor {
	t.Helper()
	// No grammars registered: every file chunks through the line-window
	// path, which keeps chunk counts predictable.
	return newIngestor(testConfig(), s, stubFetcher{root: root}, chunker.NewRegistry(), emb)
}

func TestIngest_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "notes.md", "alpha\nbeta\n")
	writeSource(t, root, "setup.txt", "gamma\ndelta\n")

	s := newFakeStore()
	emb := newFakeEmbedder()
	ing := testIngestor(t, root, s, emb)

	var stages []Stage
	res, err := ing.Ingest(context.Background(), "/src/demo", func(ev Event) {
		stages = append(stages, ev.Stage)
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", res.RepoID)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.FilesTotal)
	assert.Zero(t, res.FilesFailed)
	assert.Equal(t, 2, res.TotalChunks)
	assert.Equal(t, 2, res.StoredChunks)
	assert.Equal(t, 2, res.TotalBatches)
	assert.Zero(t, res.FailedBatches)

	assert.Equal(t, 2, s.chunkCount("demo"))
	fp, err := s.GetFingerprint("demo")
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, 2, fp.ChunkCount)
	assert.Equal(t, "test-embed", fp.EmbedModel)

	assert.Contains(t, stages, StageFetching)
	assert.Contains(t, stages, StageChunking)
	assert.Contains(t, stages, StageEmbedding)
	assert.Equal(t, StageDone, stages[len(stages)-1])
}

func TestIngest_UnchangedRepoSkipsEmbedding(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "notes.md", "alpha\nbeta\n")

	s := newFakeStore()
	emb := newFakeEmbedder()
	ing := testIngestor(t, root, s, emb)

	_, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	callsAfterFirst := emb.callCount()

	res, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, callsAfterFirst, emb.callCount(), "skip must not re-embed")
}

func TestIngest_ChangedFileReprocesses(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "notes.md", "alpha\nbeta\n")

	s := newFakeStore()
	emb := newFakeEmbedder()
	ing := testIngestor(t, root, s, emb)

	_, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)

	writeSource(t, root, "notes.md", "alpha\nbeta\nepsilon\n")

	res, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestIngest_FailedBatchWithholdsFingerprint(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")
	writeSource(t, root, "b.md", "beta\n")
	writeSource(t, root, "c.md", "gamma\n")

	s := newFakeStore()
	emb := newFakeEmbedder()
	// Second embed call fails permanently; InvalidInput is not retried.
	emb.failOn[2] = &embedder.Error{Kind: embedder.InvalidInput, Msg: "too long"}
	ing := testIngestor(t, root, s, emb)

	res, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err, "a failed batch degrades the run, it does not abort it")

	assert.Equal(t, 3, res.TotalBatches)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 2, res.StoredChunks, "successful batches stay durable")
	assert.Equal(t, 2, s.chunkCount("demo"))

	fp, err := s.GetFingerprint("demo")
	require.NoError(t, err)
	assert.Nil(t, fp, "a partial run must not commit its fingerprint")

	// The retry classifies as PROCESS and embeds again.
	res, err = ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Zero(t, res.FailedBatches)
	fp, err = s.GetFingerprint("demo")
	require.NoError(t, err)
	assert.NotNil(t, fp)
}

func TestIngest_TransientEmbedFailureRetried(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	emb := newFakeEmbedder()
	emb.failOn[1] = &embedder.Error{Kind: embedder.RateLimited, StatusCode: 429, Msg: "slow down"}
	ing := testIngestor(t, root, s, emb)

	res, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.Zero(t, res.FailedBatches)
	assert.Equal(t, 1, res.StoredChunks)
	assert.Equal(t, 2, emb.callCount())
}

func TestIngest_ConcurrentSameRepoRejected(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	ing := testIngestor(t, root, s, newFakeEmbedder())

	require.True(t, ing.locks.TryAcquire("demo"))
	defer ing.locks.Release("demo")

	_, err := ing.Ingest(context.Background(), "/src/demo", nil)
	assert.ErrorIs(t, err, ErrIngestInProgress)
}

func TestIngest_DifferentReposProceedIndependently(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	ing := testIngestor(t, root, s, newFakeEmbedder())

	require.True(t, ing.locks.TryAcquire("otherrepo"))
	defer ing.locks.Release("otherrepo")

	_, err := ing.Ingest(context.Background(), "/src/demo", nil)
	assert.NoError(t, err)
}

func TestIngest_EmbedModelChangeResetsNamespace(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	ing := testIngestor(t, root, s, newFakeEmbedder())
	_, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)

	// Same files, different embedding model: the stored vectors are in the
	// wrong space and the namespace must be rebuilt, not skipped.
	emb2 := newFakeEmbedder()
	emb2.model = "other-embed"
	ing2 := testIngestor(t, root, s, emb2)

	res, err := ing2.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Contains(t, s.deleted, "demo")
	assert.Equal(t, 1, emb2.callCount())

	fp, err := s.GetFingerprint("demo")
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, "other-embed", fp.EmbedModel)
}

func TestIngest_ModelChangeResetsEveryRepo(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	ing := testIngestor(t, root, s, newFakeEmbedder())
	_, err := ing.Ingest(context.Background(), "/src/alpha", nil)
	require.NoError(t, err)
	_, err = ing.Ingest(context.Background(), "/src/beta", nil)
	require.NoError(t, err)

	// Re-ingest only beta with the new model first. That must not satisfy
	// the model check for alpha, whose vectors are still from the old model.
	embB := newFakeEmbedder()
	embB.model = "other-embed"
	ingB := testIngestor(t, root, s, embB)
	resB, err := ingB.Ingest(context.Background(), "/src/beta", nil)
	require.NoError(t, err)
	assert.False(t, resB.Skipped)
	assert.Contains(t, s.deleted, "beta")

	embA := newFakeEmbedder()
	embA.model = "other-embed"
	ingA := testIngestor(t, root, s, embA)
	resA, err := ingA.Ingest(context.Background(), "/src/alpha", nil)
	require.NoError(t, err)
	assert.False(t, resA.Skipped, "alpha still holds old-model vectors")
	assert.Contains(t, s.deleted, "alpha")
	assert.Equal(t, 1, embA.callCount(), "alpha must be re-embedded")

	fpA, err := s.GetFingerprint("alpha")
	require.NoError(t, err)
	require.NotNil(t, fpA)
	assert.Equal(t, "other-embed", fpA.EmbedModel)
}

func TestIngest_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	emb := newFakeEmbedder()
	ing := testIngestor(t, root, s, emb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ing.Ingest(ctx, "/src/demo", nil)
	assert.ErrorIs(t, err, context.Canceled)

	fp, ferr := s.GetFingerprint("demo")
	require.NoError(t, ferr)
	assert.Nil(t, fp)
}

func TestIngest_EmptyRepoCommitsEmptyFingerprint(t *testing.T) {
	root := t.TempDir()

	s := newFakeStore()
	emb := newFakeEmbedder()
	ing := testIngestor(t, root, s, emb)

	res, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.Zero(t, res.TotalChunks)
	assert.Zero(t, emb.callCount())

	fp, err := s.GetFingerprint("demo")
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Zero(t, fp.ChunkCount)

	// A second run over the still-empty tree skips.
	res, err = ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestIngest_UpsertFailureCountsAsFailedBatch(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.md", "alpha\n")

	s := newFakeStore()
	s.upsertErr = errors.New("disk full")
	ing := testIngestor(t, root, s, newFakeEmbedder())

	res, err := ing.Ingest(context.Background(), "/src/demo", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Zero(t, res.StoredChunks)

	fp, err := s.GetFingerprint("demo")
	require.NoError(t, err)
	assert.Nil(t, fp)
}

func TestEmbedText_IncludesProvenanceHeader(t *testing.T) {
	c := chunker.Chunk{
		Name:     "Greet",
		Kind:     "function_declaration",
		Language: "go",
		Content:  "func Greet() {}",
	}
	text := embedText("pkg/greet.go", c)
	assert.Contains(t, text, "// File: pkg/greet.go")
	assert.Contains(t, text, "// Language: go")
	assert.Contains(t, text, "// function_declaration: Greet")
	assert.Contains(t, text, "func Greet() {}")
}
