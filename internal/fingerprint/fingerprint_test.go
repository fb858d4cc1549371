package fingerprint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	fps map[string]*Fingerprint
	err error
}

func newMemStore() *memStore {
	return &memStore{fps: make(map[string]*Fingerprint)}
}

func (s *memStore) GetFingerprint(repoID string) (*Fingerprint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.fps[repoID], nil
}

func (s *memStore) PutFingerprint(fp Fingerprint) error {
	if s.err != nil {
		return s.err
	}
	s.fps[fp.RepoID] = &fp
	return nil
}

func sampleFiles() []FileDigest {
	return []FileDigest{
		{Path: "cmd/main.go", Size: 120, Hash: "aaa"},
		{Path: "internal/app/app.go", Size: 480, Hash: "bbb"},
		{Path: "README.md", Size: 64, Hash: "ccc"},
	}
}

func TestCompute_OrderIndependent(t *testing.T) {
	files := sampleFiles()
	reversed := []FileDigest{files[2], files[1], files[0]}
	assert.Equal(t, Compute(files), Compute(reversed))
}

func TestCompute_SensitiveToContent(t *testing.T) {
	base := Compute(sampleFiles())

	changed := sampleFiles()
	changed[0].Hash = "zzz"
	assert.NotEqual(t, base, Compute(changed))

	resized := sampleFiles()
	resized[1].Size = 481
	assert.NotEqual(t, base, Compute(resized))

	renamed := sampleFiles()
	renamed[2].Path = "README.rst"
	assert.NotEqual(t, base, Compute(renamed))
}

func TestCompute_SensitiveToFileSet(t *testing.T) {
	base := Compute(sampleFiles())
	assert.NotEqual(t, base, Compute(sampleFiles()[:2]))
	assert.NotEqual(t, base, Compute(append(sampleFiles(), FileDigest{Path: "extra.go", Size: 1, Hash: "ddd"})))
}

func TestDecide_NoPriorRecord(t *testing.T) {
	d, stored, err := Decide(newMemStore(), "user-repo", "abc", "m1")
	require.NoError(t, err)
	assert.Equal(t, Process, d)
	assert.Nil(t, stored)
}

func TestDecide_ExactMatchSkips(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.PutFingerprint(Fingerprint{
		RepoID:     "user-repo",
		Hash:       "abc",
		EmbedModel: "m1",
		ChunkCount: 42,
		CreatedAt:  time.Now(),
	}))

	d, stored, err := Decide(s, "user-repo", "abc", "m1")
	require.NoError(t, err)
	assert.Equal(t, Skip, d)
	require.NotNil(t, stored)
	assert.Equal(t, 42, stored.ChunkCount)
}

func TestDecide_MismatchProcesses(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.PutFingerprint(Fingerprint{RepoID: "user-repo", Hash: "abc", EmbedModel: "m1"}))

	d, _, err := Decide(s, "user-repo", "def", "m1")
	require.NoError(t, err)
	assert.Equal(t, Process, d)
}

func TestDecide_ModelChangeProcesses(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.PutFingerprint(Fingerprint{RepoID: "user-repo", Hash: "abc", EmbedModel: "m1"}))

	// Same file set, different embedding model: the stored vectors are in
	// the wrong space, so the gate must not skip.
	d, stored, err := Decide(s, "user-repo", "abc", "m2")
	require.NoError(t, err)
	assert.Equal(t, Process, d)
	require.NotNil(t, stored)
	assert.Equal(t, "m1", stored.EmbedModel)
}

func TestDecide_DifferentRepoProcesses(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.PutFingerprint(Fingerprint{RepoID: "other-repo", Hash: "abc", EmbedModel: "m1"}))

	d, stored, err := Decide(s, "user-repo", "abc", "m1")
	require.NoError(t, err)
	assert.Equal(t, Process, d)
	assert.Nil(t, stored)
}

func TestDecide_StoreError(t *testing.T) {
	s := newMemStore()
	s.err = errors.New("db locked")

	d, _, err := Decide(s, "user-repo", "abc", "m1")
	assert.Error(t, err)
	assert.Equal(t, Process, d)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "PROCESS", Process.String())
	assert.Equal(t, "SKIP", Skip.String())
}
