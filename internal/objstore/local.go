package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes objects under a directory and serves them over HTTP at BaseURL.
type LocalStore struct {
	dir  string
	base string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("objstore: local dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create dir: %w", err)
	}
	return &LocalStore{dir: dir, base: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("objstore: mkdir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("objstore: write: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("objstore: rename: %w", err)
	}
	return s.base + "/" + k, nil
}

func (s *LocalStore) Get(_ context.Context, ref string) ([]byte, error) {
	if !s.Owns(ref) {
		return nil, ErrForeignRef
	}
	k, err := cleanKey(strings.TrimPrefix(ref, s.base+"/"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(k)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return data, err
}

func (s *LocalStore) Owns(ref string) bool {
	return strings.HasPrefix(ref, s.base+"/")
}

// Handler serves stored objects; mount it under the path of BaseURL.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}
