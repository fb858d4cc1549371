package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrorKind classifies why a repository could not be acquired.
type ErrorKind int

const (
	NotFound ErrorKind = iota
	AuthRequired
	NetworkError
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AuthRequired:
		return "auth required"
	case NetworkError:
		return "network error"
	}
	return "unknown"
}

// Error is a fetch failure with its classification. Fetch errors are always
// fatal for the ingestion run that triggered them.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher acquires a repository and returns the local path of its working tree.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// GitFetcher clones remote repositories into a base directory using go-git.
// A url that names an existing local directory is returned as-is without
// cloning, so local codebases can be ingested directly.
type GitFetcher struct {
	baseDir string
}

// NewGitFetcher creates a fetcher that clones under baseDir.
func NewGitFetcher(baseDir string) *GitFetcher {
	return &GitFetcher{baseDir: baseDir}
}

func (f *GitFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if info, err := os.Stat(url); err == nil && info.IsDir() {
		return filepath.Abs(url)
	}

	dest := filepath.Join(f.baseDir, RepoID(url))

	// A stale clone from a previous run is removed so the walk sees exactly
	// the current remote state.
	if err := os.RemoveAll(dest); err != nil {
		return "", &Error{Kind: NetworkError, URL: url, Err: err}
	}
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return "", &Error{Kind: NetworkError, URL: url, Err: err}
	}

	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	if err != nil {
		os.RemoveAll(dest)
		return "", &Error{Kind: classify(err), URL: url, Err: err}
	}
	return dest, nil
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return NotFound
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return AuthRequired
	default:
		return NetworkError
	}
}

// RepoID derives a stable repository identifier from a source URL or local
// path. For URLs the host is dropped and the path segments are joined with
// dashes: https://github.com/user/project.git -> user-project. Local paths
// use the directory base name.
func RepoID(url string) string {
	s := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")

	// SSH form: git@host:user/repo
	if at := strings.Index(s, "@"); at >= 0 && !strings.Contains(s, "://") {
		if colon := strings.Index(s[at:], ":"); colon >= 0 {
			s = s[at+colon+1:]
		}
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		// Drop the host.
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j+1:]
		}
	}

	s = strings.Trim(s, "/")
	if s == "" {
		return "repo"
	}

	segs := strings.Split(s, "/")
	if len(segs) > 2 {
		segs = segs[len(segs)-2:]
	}
	id := strings.ToLower(strings.Join(segs, "-"))

	// Local paths collapse to their base name.
	if strings.Contains(url, string(os.PathSeparator)) && !strings.Contains(url, "://") && !strings.Contains(url, "@") {
		id = strings.ToLower(filepath.Base(strings.TrimRight(url, "/")))
	}
	return sanitize(id)
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
