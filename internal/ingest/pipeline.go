package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"knowthecode/internal/chunker"
	"knowthecode/internal/embedder"
	"knowthecode/internal/fetcher"
	"knowthecode/internal/fingerprint"
	"knowthecode/internal/store"
	"knowthecode/internal/walker"
)

// Result summarizes one ingestion run. A run always completes with a
// summary; per-file and per-batch degradations are aggregated here rather
// than raised individually.
type Result struct {
	RepoID        string
	Skipped       bool // fingerprint matched, nothing re-embedded
	FilesTotal    int
	FilesFailed   int // unreadable, skipped with a warning
	TotalChunks   int
	StoredChunks  int
	TotalBatches  int
	FailedBatches int
}

// sourceFile is a selected file with its content in memory. Discarded
// after chunking.
type sourceFile struct {
	relPath string
	size    int64
	content []byte
}

// batch is one embedding request's worth of chunks.
type batch struct {
	chunks []store.Chunk
	texts  []string
}

type batchOutcome struct {
	embeddings [][]float32
	err        error
}

// Ingest runs the full pipeline for one repository source (URL or local
// path). Concurrent calls for different repositories proceed independently;
// a second call for the same repository id fails with ErrIngestInProgress.
func (ing *Ingestor) Ingest(ctx context.Context, source string, onProgress ProgressFunc) (*Result, error) {
	repoID := fetcher.RepoID(source)
	if !ing.locks.TryAcquire(repoID) {
		return nil, fmt.Errorf("%s: %w", repoID, ErrIngestInProgress)
	}
	defer ing.locks.Release(repoID)

	res := &Result{RepoID: repoID}

	onProgress.emit(Event{Stage: StageFetching, Message: source})
	root, err := ing.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	files, failed, err := ing.selectFiles(ctx, root, onProgress)
	if err != nil {
		return nil, err
	}
	res.FilesFailed = failed
	res.FilesTotal = len(files)

	digests := make([]fingerprint.FileDigest, len(files))
	for i, f := range files {
		h := sha256.Sum256(f.content)
		digests[i] = fingerprint.FileDigest{
			Path: f.relPath,
			Size: f.size,
			Hash: hex.EncodeToString(h[:]),
		}
	}
	fpHash := fingerprint.Compute(digests)

	decision, stored, err := fingerprint.Decide(ing.store, repoID, fpHash, ing.embedder.Model())
	if err != nil {
		return nil, err
	}
	if decision == fingerprint.Skip {
		res.Skipped = true
		onProgress.emit(Event{Stage: StageDone, Message: "already indexed"})
		return res, nil
	}

	// Vectors produced with a different model are in the wrong embedding
	// space; the namespace is rebuilt from scratch rather than mixed.
	if stored != nil && stored.EmbedModel != ing.embedder.Model() {
		if err := ing.store.DeleteNamespace(repoID); err != nil {
			return nil, fmt.Errorf("reset namespace %s: %w", repoID, err)
		}
	}

	batches := ing.chunkAndBatch(files, res, onProgress)

	if err := ing.embedAndUpsert(ctx, repoID, batches, res, onProgress); err != nil {
		return res, err
	}

	// The fingerprint is committed only after every chunk of the run is
	// durably stored; a partial run must classify as PROCESS on retry.
	if res.FailedBatches == 0 && ctx.Err() == nil {
		if err := ing.store.PutFingerprint(fingerprint.Fingerprint{
			RepoID:     repoID,
			Hash:       fpHash,
			EmbedModel: ing.embedder.Model(),
			ChunkCount: res.StoredChunks,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return res, fmt.Errorf("commit fingerprint: %w", err)
		}
	}

	onProgress.emit(Event{Stage: StageDone, Processed: res.StoredChunks, Total: res.TotalChunks})
	return res, ctx.Err()
}

// selectFiles drains the walker and reads file contents, skipping
// unreadable files with a warning.
func (ing *Ingestor) selectFiles(ctx context.Context, root string, onProgress ProgressFunc) ([]sourceFile, int, error) {
	fileCh, walkErrCh := walker.Walk(ctx, root, ing.walkOptions())

	var files []sourceFile
	failed := 0
	for fi := range fileCh {
		if ctx.Err() != nil {
			return nil, failed, ctx.Err()
		}
		content, err := os.ReadFile(fi.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping unreadable file %s: %v\n", fi.RelPath, err)
			failed++
			continue
		}
		files = append(files, sourceFile{relPath: fi.RelPath, size: fi.Size, content: content})
		onProgress.emit(Event{Stage: StageSelecting, Processed: len(files)})
	}
	if err := <-walkErrCh; err != nil {
		return nil, failed, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, failed, nil
}

// chunkAndBatch chunks every selected file and groups the chunks into
// fixed-size batches in deterministic file order.
func (ing *Ingestor) chunkAndBatch(files []sourceFile, res *Result, onProgress ProgressFunc) []batch {
	var all []store.Chunk
	var texts []string
	for i, f := range files {
		for _, c := range ing.engine.ChunkFile(f.relPath, f.content) {
			all = append(all, store.Chunk{
				ID:        c.ID,
				Path:      f.relPath,
				Language:  c.Language,
				Name:      c.Name,
				Kind:      c.Kind,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Content:   c.Content,
			})
			texts = append(texts, embedText(f.relPath, c))
		}
		onProgress.emit(Event{Stage: StageChunking, Processed: i + 1, Total: len(files)})
	}
	res.TotalChunks = len(all)

	var batches []batch
	for start := 0; start < len(all); start += ing.cfg.BatchSize {
		end := start + ing.cfg.BatchSize
		if end > len(all) {
			end = len(all)
		}
		batches = append(batches, batch{chunks: all[start:end], texts: texts[start:end]})
	}
	res.TotalBatches = len(batches)
	return batches
}

// embedAndUpsert drives the batches through the embedding service with up
// to cfg.Concurrency requests in flight, applying upserts strictly in batch
// order. A batch whose retries exhaust is marked failed and the run
// continues; already-upserted batches stay durable regardless.
func (ing *Ingestor) embedAndUpsert(ctx context.Context, namespace string, batches []batch, res *Result, onProgress ProgressFunc) error {
	if len(batches) == 0 {
		return nil
	}

	ready := make([]chan batchOutcome, len(batches))
	for i := range ready {
		ready[i] = make(chan batchOutcome, 1)
	}

	var g errgroup.Group
	dispatch := func(i int) {
		g.Go(func() error {
			embeddings, err := retryWithBackoff(ctx, ing.retryConfig(), func() ([][]float32, error) {
				return ing.embedder.Embed(ctx, batches[i].texts)
			})
			ready[i] <- batchOutcome{embeddings: embeddings, err: err}
			return nil
		})
	}

	// Dispatch lazily: at most Concurrency batches are embedded or parked
	// awaiting commit at any moment, bounding memory.
	next := 0
	inFlight := 0
	embedded := 0
	for commit := 0; commit < len(batches); commit++ {
		for next < len(batches) && inFlight < ing.cfg.Concurrency {
			dispatch(next)
			next++
			inFlight++
		}

		out := <-ready[commit]
		inFlight--

		if ctx.Err() != nil {
			// Remaining batches are abandoned; drain the workers.
			for next > commit+1 {
				<-ready[commit+1]
				commit++
			}
			g.Wait()
			return ctx.Err()
		}

		if out.err != nil {
			fmt.Fprintf(os.Stderr, "warning: batch %d/%d failed to embed: %v\n", commit+1, len(batches), out.err)
			res.FailedBatches++
			continue
		}
		embedded++
		onProgress.emit(Event{Stage: StageEmbedding, Processed: embedded, Total: len(batches)})

		_, err := retryWithBackoff(ctx, ing.retryConfig(), func() (struct{}, error) {
			return struct{}{}, ing.store.Upsert(namespace, batches[commit].chunks, out.embeddings)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: batch %d/%d failed to upsert: %v\n", commit+1, len(batches), err)
			res.FailedBatches++
			continue
		}
		res.StoredChunks += len(batches[commit].chunks)
		onProgress.emit(Event{Stage: StageUpserting, Processed: res.StoredChunks, Total: res.TotalChunks})
	}

	return g.Wait()
}

func (ing *Ingestor) retryConfig() RetryConfig {
	cfg := ing.cfg.Retry
	if cfg.Retryable == nil {
		cfg.Retryable = embedder.IsTransient
	}
	return cfg
}

// embedText prefixes the chunk with a provenance header so the embedding
// carries the file and symbol context.
func embedText(path string, c chunker.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// File: %s\n", path)
	fmt.Fprintf(&b, "// Language: %s\n", c.Language)
	if c.Name != "" {
		fmt.Fprintf(&b, "// %s: %s\n", c.Kind, c.Name)
	}
	b.WriteString(c.Content)
	return b.String()
}
