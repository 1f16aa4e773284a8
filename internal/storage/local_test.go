package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func TestLocal_PutGetRoundTrip(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()

	payload := []byte(`{"number":"KR-20250314-abc123"}`)
	key := "tenants/org-1/invoices/inv-1/document.json"

	if err := store.Put(ctx, key, bytes.NewReader(payload), PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, info, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("content mismatch: %q", got)
	}
	if info.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", info.Size, len(payload))
	}
}

func TestLocal_PutWithoutOverwriteRefusesExisting(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()
	key := "tenants/org-1/photos/ring.jpg"

	if err := store.Put(ctx, key, strings.NewReader("one"), PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}

	err := store.Put(ctx, key, strings.NewReader("two"), PutOptions{})
	if !errors.Is(err, ErrKeyExists) {
		t.Errorf("err = %v, want ErrKeyExists", err)
	}

	if err := store.Put(ctx, key, strings.NewReader("two"), PutOptions{Overwrite: true}); err != nil {
		t.Errorf("overwrite Put: %v", err)
	}
}

func TestLocal_PutEnforcesMaxSize(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()

	err := store.Put(ctx, "big.bin", strings.NewReader("0123456789"), PutOptions{MaxSize: 4})
	if !IsTooLarge(err) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}

	// The partial write must not linger.
	exists, err := store.Exists(ctx, "big.bin")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("oversized object was kept")
	}
}

func TestLocal_GetMissingIsNotFound(t *testing.T) {
	store := newTestLocal(t)

	_, _, err := store.Get(context.Background(), "nope/missing.json")
	if !IsNotFound(err) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLocal_DeleteIsIdempotent(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()
	key := "tenants/org-1/photos/gone.jpg"

	if err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocal_RejectsTraversalKeys(t *testing.T) {
	store := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/../../b", "tenants/../../etc/passwd"} {
		if err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestLocal_URLJoinsBase(t *testing.T) {
	store := newTestLocal(t)

	url, err := store.URL(context.Background(), "tenants/org-1/photos/ring.jpg", 0)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != "http://localhost:8080/files/tenants/org-1/photos/ring.jpg" {
		t.Errorf("url = %q", url)
	}
}

func TestKeyHelpers(t *testing.T) {
	orgID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	invoiceID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	docKey := DocumentKey(orgID, invoiceID, "json")
	want := "tenants/11111111-2222-3333-4444-555555555555/invoices/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee/document.json"
	if docKey != want {
		t.Errorf("DocumentKey = %q, want %q", docKey, want)
	}

	photoKey := PhotoKey(orgID, "ring.jpg")
	if !strings.HasPrefix(photoKey, "tenants/11111111-2222-3333-4444-555555555555/photos/") {
		t.Errorf("PhotoKey prefix: %q", photoKey)
	}
	if !strings.HasSuffix(photoKey, ".jpg") {
		t.Errorf("PhotoKey extension: %q", photoKey)
	}

	thumbKey := ThumbnailKey(photoKey)
	if !strings.HasSuffix(thumbKey, "_thumb.jpg") {
		t.Errorf("ThumbnailKey = %q", thumbKey)
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		filename string
		data     []byte
		want     string
	}{
		{name: "provided wins", provided: "image/webp", filename: "x.png", want: "image/webp"},
		{name: "extension fallback", filename: "photo.png", want: "image/png"},
		{name: "sniffed png", data: []byte("\x89PNG\r\n\x1a\n0000000000000000"), want: "image/png"},
		{name: "unknown", want: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data io.Reader
			if tt.data != nil {
				data = bytes.NewReader(tt.data)
			}
			if got := DetectContentType(tt.provided, tt.filename, data); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAllowedPhotoType(t *testing.T) {
	if !IsAllowedPhotoType("image/jpeg; charset=binary") {
		t.Error("parameterized jpeg should be allowed")
	}
	if !IsAllowedPhotoType("IMAGE/PNG") {
		t.Error("case should not matter")
	}
	if IsAllowedPhotoType("application/pdf") {
		t.Error("pdf is not a photo")
	}
}
