// Package objstore holds uploaded captures and composite results.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrForeignRef = errors.New("reference not owned by this store")
	ErrBadKey     = errors.New("invalid object key")
)

type Store interface {
	// Put stores data under key and returns the asset reference clients receive.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Get loads the object behind a reference returned by Put.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Owns reports whether ref was issued by this store.
	Owns(ref string) bool
}

// CaptureKey is the object key of one peer's capture.
func CaptureKey(sessionID string, peerIndex int, ext string) string {
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("booth/%s/peer-%d.%s", sessionID, peerIndex, ext)
}

// ResultKey is the object key of a composite.
func ResultKey(sessionID string) string {
	return fmt.Sprintf("booth/%s/final.jpg", sessionID)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrBadKey
	}
	c := path.Clean(key)
	if c != key || c == "." || strings.HasPrefix(c, "../") || c == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return c, nil
}
