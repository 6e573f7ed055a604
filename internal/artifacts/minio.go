package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectLister is the subset of *minio.Client used by MinIOStore.
type ObjectLister interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	StatObject(ctx context.Context, bucketName string, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName string, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// MinIOStore serves glob queries over run results mirrored into a bucket.
// Roots and paths are object key prefixes.
type MinIOStore struct {
	Client ObjectLister
	Bucket string
}

func (s MinIOStore) MatchPaths(ctx context.Context, root string, pattern string) ([]string, error) {
	if s.Client == nil || strings.TrimSpace(s.Bucket) == "" {
		return nil, errors.New("artifacts: minio store is not configured")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("artifacts: pattern %q: %w", pattern, err)
	}
	prefix := strings.Trim(root, "/")
	if prefix != "" {
		prefix += "/"
	}

	var out []string
	for obj := range s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("artifacts: list %s/%s: %w", s.Bucket, prefix, obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		ok, err := path.Match(pattern, rel)
		if err != nil {
			return nil, fmt.Errorf("artifacts: pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, obj.Key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s MinIOStore) MatchCount(ctx context.Context, root string, pattern string) (int, error) {
	matches, err := s.MatchPaths(ctx, root, pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (s MinIOStore) FileSize(ctx context.Context, key string) (int64, error) {
	if s.Client == nil || strings.TrimSpace(s.Bucket) == "" {
		return 0, errors.New("artifacts: minio store is not configured")
	}
	info, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("artifacts: stat %s/%s: %w", s.Bucket, key, err)
	}
	return info.Size, nil
}

func (s MinIOStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.Client == nil || strings.TrimSpace(s.Bucket) == "" {
		return nil, errors.New("artifacts: minio store is not configured")
	}
	obj, err := s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("artifacts: get %s/%s: %w", s.Bucket, key, err)
	}
	return obj, nil
}
