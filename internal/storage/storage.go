// Package storage provides object storage for invoice documents and
// jewelry photos.
//
// Two implementations are available: Local (filesystem, development) and
// R2 (Cloudflare R2 via the S3-compatible API, production).
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store is the object storage abstraction used by the invoice and photo
// services. All methods honor context cancellation.
type Store interface {
	// Put stores data at key. Fails with ErrKeyExists when the key is
	// taken and opts.Overwrite is false, and with ErrTooLarge when data
	// exceeds opts.MaxSize.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object body (caller closes) and its metadata.
	// Returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns an access URL for the object: a permanent public URL
	// where the backend has one, otherwise a presigned URL valid for
	// expires.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures a Put.
type PutOptions struct {
	// ContentType is the MIME type; detected from the key when empty.
	ContentType string

	// MaxSize caps the object size in bytes. Zero means no cap.
	MaxSize int64

	// Overwrite permits replacing an existing object.
	Overwrite bool
}

// ObjectInfo is the metadata of a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// LocalConfig configures filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory, e.g. "./data/objects".
	BasePath string

	// BaseURL is the public prefix files are served under.
	BaseURL string
}

// R2Config configures Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL is an optional custom-domain prefix for the bucket; when
	// empty every URL is presigned.
	PublicURL string

	// Region defaults to "auto", which is what R2 expects.
	Region string
}

// Provider names accepted in configuration.
const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// DocumentKey generates a key for a rendered invoice document.
// Format: tenants/{orgID}/invoices/{invoiceID}/document.{format}
func DocumentKey(orgID, invoiceID uuid.UUID, format string) string {
	return fmt.Sprintf("tenants/%s/invoices/%s/document.%s", orgID, invoiceID, format)
}

// PhotoKey generates a key for an uploaded jewelry photo.
// Format: tenants/{orgID}/photos/{uuid}.{ext}
func PhotoKey(orgID uuid.UUID, filename string) string {
	return fmt.Sprintf("tenants/%s/photos/%s%s", orgID, uuid.New(), filepath.Ext(filename))
}

// ThumbnailKey generates a key for a photo thumbnail derived from the
// photo at photoKey.
func ThumbnailKey(photoKey string) string {
	ext := filepath.Ext(photoKey)
	return photoKey[:len(photoKey)-len(ext)] + "_thumb" + ext
}
