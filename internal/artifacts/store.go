// Package artifacts answers glob queries against the directory trees that
// sequencing pipelines write their output to.
package artifacts

import (
	"context"
	"io"
)

// Store matches shell-glob patterns relative to a root directory. A '*'
// never crosses a '/' and a root that does not exist has no matches.
type Store interface {
	// MatchPaths returns the matching entries as full paths (root joined with
	// the relative match), sorted.
	MatchPaths(ctx context.Context, root string, pattern string) ([]string, error)
	MatchCount(ctx context.Context, root string, pattern string) (int, error)
	// FileSize returns the byte size of a path previously returned by MatchPaths.
	FileSize(ctx context.Context, path string) (int64, error)
}

// Reader opens a path previously returned by MatchPaths.
type Reader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// ReadableStore is a Store whose matches can also be read.
type ReadableStore interface {
	Store
	Reader
}
