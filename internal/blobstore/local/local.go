package local

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vbonduro/checkin/internal/blobstore"
)

const (
	privateMode = 0o600
	publicMode  = 0o644
)

// Store keeps blobs as files under basePath/<container>/<name>. Files are
// private until SetPublicReadable widens their mode; the HTTP blob handler
// only serves public files.
type Store struct {
	basePath string
	baseURL  string
}

var _ blobstore.Store = (*Store)(nil)

// New returns a Store whose URLs are rooted at publicBaseURL + "/blobs/".
func New(basePath, publicBaseURL string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{
		basePath: basePath,
		baseURL:  strings.TrimRight(publicBaseURL, "/") + "/blobs/",
	}, nil
}

func (s *Store) Save(_ context.Context, container, name, _ string, data []byte) (string, error) {
	key := path.Join(container, name)
	filePath, err := s.safeJoin(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := os.WriteFile(filePath, data, privateMode); err != nil {
		if rerr := os.Remove(filePath); rerr != nil && !os.IsNotExist(rerr) {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(filePath, privateMode); err != nil {
		return "", fmt.Errorf("failed to set file mode: %w", err)
	}
	return s.urlFor(key), nil
}

func (s *Store) Get(_ context.Context, blobURL string) ([]byte, string, error) {
	key, err := s.keyFromURL(blobURL)
	if err != nil {
		return nil, "", err
	}
	return s.read(key)
}

// Public reads the blob at key, reporting ErrNotFound unless it was made
// publicly readable.
func (s *Store) Public(key string) ([]byte, string, error) {
	filePath, err := s.safeJoin(key)
	if err != nil {
		return nil, "", blobstore.ErrNotFound
	}
	info, err := os.Stat(filePath)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o004 == 0 {
		return nil, "", blobstore.ErrNotFound
	}
	return s.read(key)
}

func (s *Store) read(key string) ([]byte, string, error) {
	filePath, err := s.safeJoin(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	return data, blobstore.MimeFromName(filePath), nil
}

func (s *Store) SetPublicReadable(_ context.Context, blobURL string) (string, error) {
	key, err := s.keyFromURL(blobURL)
	if err != nil {
		return "", err
	}
	filePath, err := s.safeJoin(key)
	if err != nil {
		return "", err
	}
	if err := os.Chmod(filePath, publicMode); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to set file mode: %w", err)
	}
	return blobURL, nil
}

// PublicList returns the URLs of the container's shared blobs in name order.
func (s *Store) PublicList(container string) ([]string, error) {
	dir, err := s.safeJoin(strings.Trim(container, "/"))
	if err != nil {
		return nil, blobstore.ErrNotFound
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, container)
		}
		return nil, fmt.Errorf("failed to list container: %w", err)
	}

	urls := []string{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o004 == 0 {
			continue
		}
		urls = append(urls, s.urlFor(path.Join(strings.Trim(container, "/"), e.Name())))
	}
	return urls, nil
}

func (s *Store) ContainerURL(container string) string {
	return s.baseURL + url.PathEscape(container) + "/"
}

func (s *Store) ContainerExists(_ context.Context, container string) (bool, error) {
	dir, err := s.safeJoin(container)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat container: %w", err)
	}
	return info.IsDir(), nil
}

func (s *Store) urlFor(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + strings.Join(parts, "/")
}

func (s *Store) keyFromURL(blobURL string) (string, error) {
	rest, ok := strings.CutPrefix(blobURL, s.baseURL)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a local blob url", blobstore.ErrNotFound, blobURL)
	}
	key, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("invalid blob url: %w", err)
	}
	return key, nil
}

// safeJoin resolves key relative to basePath and rejects directory traversal.
func (s *Store) safeJoin(key string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}
