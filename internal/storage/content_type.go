package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType resolves a MIME type: the provided type wins, then
// extension lookup on filename, then sniffing the first 512 bytes of data,
// then application/octet-stream.
func DetectContentType(providedType, filename string, data io.Reader) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	if data != nil {
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	return "application/octet-stream"
}

// allowedPhotoTypes are the formats accepted for jewelry photo intake.
// HEIC/HEIF covers phone cameras, the usual source of these photos.
var allowedPhotoTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// IsAllowedPhotoType checks whether a content type may be ingested as a
// jewelry photo.
func IsAllowedPhotoType(contentType string) bool {
	return allowedPhotoTypes[baseType(contentType)]
}

// baseType strips parameters (e.g. "; charset=utf-8") and normalizes case.
func baseType(contentType string) string {
	base := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(base))
}

// ExtensionForContentType returns a filename extension for a MIME type,
// used when the upload carries no usable filename.
func ExtensionForContentType(contentType string) string {
	switch baseType(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	case "image/heif":
		return ".heif"
	case "application/pdf":
		return ".pdf"
	}

	exts, err := mime.ExtensionsByType(contentType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
