package walker

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

// FileInfo holds metadata about a discovered source file.
type FileInfo struct {
	Path    string // absolute path on disk
	RelPath string // POSIX-style path relative to the walk root
	Size    int64
}

// Options controls which files a walk yields.
type Options struct {
	// Extensions is the allowlist of file extensions (without dot).
	Extensions map[string]bool
	// ExcludeDirs are directory names pruned at any depth.
	ExcludeDirs []string
	// MaxFileSize caps the size of files considered, in bytes.
	// Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// DefaultMaxFileSize is the largest file considered (1 MB).
const DefaultMaxFileSize = 1 << 20

// DefaultExcludeDirs are directories that never contain useful source.
var DefaultExcludeDirs = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
	"dist",
	"build",
	"target",
}

// Walk traverses the tree rooted at root and sends discovered source files
// on the returned channel, in lexical path order so downstream chunk ids are
// reproducible across runs on an unchanged tree. Unreadable entries are
// skipped; only a failure to walk at all, or context cancellation, is
// reported on the error channel. Cancelling the context stops the walk even
// when the consumer has stopped draining the file channel.
func Walk(ctx context.Context, root string, opts Options) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errs := make(chan error, 1)

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	exclude := opts.ExcludeDirs
	if exclude == nil {
		exclude = DefaultExcludeDirs
	}

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries, keep walking
			}

			if d.IsDir() {
				if path == absRoot {
					return nil
				}
				if excluded(d.Name(), exclude) {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}

			ext := strings.TrimPrefix(filepath.Ext(path), ".")
			if !opts.Extensions[ext] {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > maxSize || info.Size() == 0 {
				return nil
			}

			relPath, _ := filepath.Rel(absRoot, path)
			select {
			case files <- FileInfo{
				Path:    path,
				RelPath: filepath.ToSlash(relPath),
				Size:    info.Size(),
			}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- err
		}
	}()

	return files, errs
}

func excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if name == p {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
