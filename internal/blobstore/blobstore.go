// Package blobstore defines where uploaded photos, signatures and generated
// reports are kept. Blobs live in containers (folders) and are addressed by
// the URL Save returns.
package blobstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Save(ctx context.Context, container, name, mimeType string, data []byte) (url string, err error)
	Get(ctx context.Context, url string) (data []byte, mimeType string, err error)
	// SetPublicReadable lets anyone read the blob and returns the URL to hand
	// out, which need not equal url.
	SetPublicReadable(ctx context.Context, url string) (publicURL string, err error)
	// ContainerURL addresses a listing of the container's shared blobs.
	ContainerURL(container string) string
	ContainerExists(ctx context.Context, container string) (bool, error)
}

// MimeFromName guesses a content type from a blob name's extension.
func MimeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
