package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Fingerprint identifies the processed state of one repository. A stored
// fingerprint means a full ingestion run completed for exactly this file
// set; it is written only after every chunk is durably stored.
type Fingerprint struct {
	RepoID     string
	Hash       string
	EmbedModel string // model the stored vectors were produced with
	ChunkCount int
	CreatedAt  time.Time
}

// FileDigest is the identity of one selected file as seen by the gate.
type FileDigest struct {
	Path string // POSIX-style, relative to the repository root
	Size int64
	Hash string // sha256 of the file content, hex
}

// Store persists one fingerprint per repository id.
type Store interface {
	// GetFingerprint returns the stored fingerprint, or nil if none exists.
	GetFingerprint(repoID string) (*Fingerprint, error)
	// PutFingerprint stores a fingerprint, replacing any previous one.
	PutFingerprint(fp Fingerprint) error
}

// Decision is the gate's verdict for a repository.
type Decision int

const (
	Process Decision = iota
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "SKIP"
	}
	return "PROCESS"
}

// Compute hashes the selected file set. The input is content-based (path,
// size, content hash), so metadata-only changes such as mtimes or
// permission bits do not invalidate a stored fingerprint.
func Compute(files []FileDigest) string {
	sorted := make([]FileDigest, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00%s\n", f.Path, f.Size, f.Hash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Decide returns Skip only when a stored fingerprint for the repository
// matches both the computed hash and the embedding model exactly. Any
// mismatch, including no prior record, means Process: an earlier run that
// failed partway never stored its fingerprint, and vectors produced with a
// different model are in the wrong embedding space even when the file set
// is unchanged. The stored record is returned alongside the decision so
// callers can inspect what the mismatch was.
func Decide(store Store, repoID, hash, embedModel string) (Decision, *Fingerprint, error) {
	stored, err := store.GetFingerprint(repoID)
	if err != nil {
		return Process, nil, fmt.Errorf("load fingerprint for %s: %w", repoID, err)
	}
	if stored != nil && stored.Hash == hash && stored.EmbedModel == embedModel {
		return Skip, stored, nil
	}
	return Process, stored, nil
}
