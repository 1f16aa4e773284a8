// Package handler contains HTTP handlers for the Karat API and the chat
// webhook.
//
// This file implements jewelry photo intake over the REST API.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/middleware"
	"github.com/karat-app/karat/internal/service"
)

// PhotoHandler serves photo intake.
type PhotoHandler struct {
	photos service.PhotoService
	logger *slog.Logger
}

// NewPhotoHandler creates a new PhotoHandler.
func NewPhotoHandler(photos service.PhotoService, logger *slog.Logger) *PhotoHandler {
	return &PhotoHandler{
		photos: photos,
		logger: logger,
	}
}

// RegisterRoutes registers photo routes on the mux, wrapped with the given
// middleware chain.
func (h *PhotoHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/photos", wrap(http.HandlerFunc(h.Upload)))
}

// photoResponse describes the stored photo.
type photoResponse struct {
	Key          string `json:"key"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	URL          string `json:"url,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Size         int64  `json:"size"`
}

// Upload handles POST /api/photos. The body is the raw photo; the
// Content-Type header and the X-Filename header (optional) describe it.
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("photo.upload", "no tenant context"))
		return
	}

	upload, err := h.photos.Ingest(r.Context(), tenant,
		r.Header.Get("X-Filename"), r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, photoResponse{
		Key:          upload.Key,
		ThumbnailKey: upload.ThumbnailKey,
		URL:          upload.URL,
		Width:        upload.Width,
		Height:       upload.Height,
		Size:         upload.Size,
	})
}
