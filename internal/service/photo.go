// Package service contains the business logic layer.
//
// This file implements jewelry photo intake: validation, original upload,
// and thumbnail generation.
package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
	"github.com/karat-app/karat/internal/storage"

	// Register decoders for the formats photo intake accepts.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Photo intake limits.
const (
	// MaxPhotoSize caps an uploaded jewelry photo at 10 MiB.
	MaxPhotoSize = 10 << 20

	// Thumbnail bounding box.
	thumbnailMaxWidth  = 320
	thumbnailMaxHeight = 320

	thumbnailJPEGQuality = 85
)

// PhotoUpload describes a stored photo and its thumbnail.
type PhotoUpload struct {
	Key          string
	ThumbnailKey string
	URL          string
	Width        int
	Height       int
	Size         int64
}

// =============================================================================
// Interface Definition
// =============================================================================

// PhotoService handles jewelry photo intake. Plan gating (the photo_input
// feature) is enforced by the admission pipeline before intake is reached.
type PhotoService interface {
	// Ingest validates and stores a photo plus a derived thumbnail.
	// Returns domain.EINVALID for unsupported content types and
	// domain.ETOOLARGE when the photo exceeds MaxPhotoSize.
	Ingest(ctx context.Context, tenant domain.TenantRef, filename, contentType string, data io.Reader) (*PhotoUpload, error)
}

// =============================================================================
// Implementation
// =============================================================================

type photoService struct {
	store  storage.Store
	logger *slog.Logger
}

// NewPhotoService creates a new PhotoService.
func NewPhotoService(store storage.Store, logger *slog.Logger) PhotoService {
	return &photoService{
		store:  store,
		logger: logger,
	}
}

// Ingest validates and stores a photo plus a derived thumbnail.
func (s *photoService) Ingest(ctx context.Context, tenant domain.TenantRef, filename, contentType string, data io.Reader) (*PhotoUpload, error) {
	const op = "photo.ingest"

	orgID, err := uuid.Parse(tenant.TenantID)
	if err != nil {
		return nil, domain.Invalid(op, "invalid tenant id")
	}

	// Buffer the upload: it is read twice (decode + store) and the size
	// cap has to be enforced before decoding.
	buf, err := readCapped(data, MaxPhotoSize)
	if err != nil {
		metrics.PhotosIngested.WithLabelValues("rejected").Inc()
		if err == errTooLarge {
			return nil, domain.TooLarge(op, fmt.Sprintf("photo exceeds the %d MiB limit", MaxPhotoSize>>20))
		}
		return nil, domain.Internal(err, op, "failed to read photo")
	}

	contentType = storage.DetectContentType(contentType, filename, bytes.NewReader(buf))
	if !storage.IsAllowedPhotoType(contentType) {
		metrics.PhotosIngested.WithLabelValues("rejected").Inc()
		return nil, domain.Invalid(op, fmt.Sprintf("unsupported photo type %q", contentType))
	}

	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		metrics.PhotosIngested.WithLabelValues("rejected").Inc()
		return nil, domain.Invalid(op, "photo data is not a decodable image")
	}
	bounds := img.Bounds()

	if filename == "" {
		filename = "photo" + storage.ExtensionForContentType(contentType)
	}
	key := storage.PhotoKey(orgID, filename)

	if err := s.store.Put(ctx, key, bytes.NewReader(buf), storage.PutOptions{
		ContentType: contentType,
		MaxSize:     MaxPhotoSize,
	}); err != nil {
		if storage.IsTooLarge(err) {
			metrics.PhotosIngested.WithLabelValues("rejected").Inc()
			return nil, domain.TooLarge(op, fmt.Sprintf("photo exceeds the %d MiB limit", MaxPhotoSize>>20))
		}
		metrics.PhotosIngested.WithLabelValues("error").Inc()
		return nil, domain.Internal(err, op, "failed to store photo")
	}

	thumbKey, err := s.storeThumbnail(ctx, key, img)
	if err != nil {
		// Keep the original; a missing thumbnail is recoverable.
		s.logger.Error("failed to store thumbnail", "key", key, "error", err)
		thumbKey = ""
	}

	url, err := s.store.URL(ctx, key, 15*time.Minute)
	if err != nil {
		s.logger.Error("failed to generate photo URL", "key", key, "error", err)
	}

	metrics.PhotosIngested.WithLabelValues("ok").Inc()

	s.logger.Info("photo ingested",
		"org_id", orgID,
		"key", key,
		"size", len(buf),
		"width", bounds.Dx(),
		"height", bounds.Dy(),
	)

	return &PhotoUpload{
		Key:          key,
		ThumbnailKey: thumbKey,
		URL:          url,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Size:         int64(len(buf)),
	}, nil
}

// storeThumbnail fits the image into the thumbnail bounding box, encodes
// it as JPEG, and stores it next to the original.
func (s *photoService) storeThumbnail(ctx context.Context, photoKey string, img image.Image) (string, error) {
	thumb := imaging.Fit(img, thumbnailMaxWidth, thumbnailMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailJPEGQuality)); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	key := storage.ThumbnailKey(photoKey)
	if err := s.store.Put(ctx, key, &buf, storage.PutOptions{
		ContentType: "image/jpeg",
		Overwrite:   true,
	}); err != nil {
		return "", err
	}

	return key, nil
}

var errTooLarge = fmt.Errorf("data exceeds size limit")

// readCapped reads everything from r, failing once more than limit bytes
// arrive.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, errTooLarge
	}
	return buf, nil
}
