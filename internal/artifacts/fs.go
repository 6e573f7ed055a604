package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FSStore serves glob queries from a go-billy filesystem.
type FSStore struct {
	fs billy.Filesystem
}

func NewFSStore(fs billy.Filesystem) *FSStore {
	return &FSStore{fs: fs}
}

// NewOSStore serves queries from the host filesystem. Roots passed to the
// store are resolved under baseDir.
func NewOSStore(baseDir string) *FSStore {
	if baseDir == "" {
		baseDir = "/"
	}
	return &FSStore{fs: osfs.New(baseDir)}
}

func (s *FSStore) MatchPaths(ctx context.Context, root string, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := s.fs.Chroot(root)
	if err != nil {
		return nil, fmt.Errorf("artifacts: chroot %q: %w", root, err)
	}
	// Chrooting keeps glob metacharacters in root from being interpreted.
	matches, err := util.Glob(sub, pattern)
	if err != nil {
		return nil, fmt.Errorf("artifacts: glob %q under %q: %w", pattern, root, err)
	}
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		out = append(out, path.Join(root, match))
	}
	sort.Strings(out)
	return out, nil
}

func (s *FSStore) MatchCount(ctx context.Context, root string, pattern string) (int, error) {
	matches, err := s.MatchPaths(ctx, root, pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (s *FSStore) FileSize(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		return 0, fmt.Errorf("artifacts: stat %q: %w", name, err)
	}
	return info.Size(), nil
}

func (s *FSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open %q: %w", name, err)
	}
	return f, nil
}
