// Package filehandler provides media classification, source scanning, and
// capture metadata extraction for the ingest pipeline.
//
// Image metadata is extracted in pure Go using evanoberholster/imagemeta.
// Raw camera formats are classified by extension only; their metadata blocks
// are TIFF-based and imagemeta reads most of them, but a failed read always
// degrades to empty fields rather than an error.
package filehandler

import (
	"fmt"
	"strings"
)

// MediaType classifies a source file for routing purposes. The values double
// as the MEDIA_TYPE token value, so they are folder-friendly plurals.
type MediaType string

const (
	MediaPhotos MediaType = "photos"
	MediaVideos MediaType = "videos"
	MediaRaw    MediaType = "raw"
	MediaOther  MediaType = "other"
)

// SupportedImageExtensions defines the file extensions treated as photos.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// SupportedVideoExtensions defines the file extensions treated as videos.
var SupportedVideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mts":  "video/mp2t",
	".m4v":  "video/x-m4v",
}

// RawExtensions defines the raw camera formats. Generic content sniffers
// cannot classify these, so triage exempts them from broad-category checks.
var RawExtensions = map[string]string{
	".cr2": "image/x-canon-cr2",
	".cr3": "image/x-canon-cr3",
	".nef": "image/x-nikon-nef",
	".arw": "image/x-sony-arw",
	".dng": "image/x-adobe-dng",
	".raf": "image/x-fuji-raf",
	".orf": "image/x-olympus-orf",
	".rw2": "image/x-panasonic-rw2",
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	ext = strings.ToLower(ext)

	if mimeType, ok := SupportedImageExtensions[ext]; ok {
		return mimeType, nil
	}

	if mimeType, ok := SupportedVideoExtensions[ext]; ok {
		return mimeType, nil
	}

	if mimeType, ok := RawExtensions[ext]; ok {
		return mimeType, nil
	}

	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a decodable image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsVideo returns true if the file extension corresponds to a video.
func IsVideo(ext string) bool {
	_, ok := SupportedVideoExtensions[strings.ToLower(ext)]
	return ok
}

// IsRaw returns true if the file extension corresponds to a raw camera format.
func IsRaw(ext string) bool {
	_, ok := RawExtensions[strings.ToLower(ext)]
	return ok
}

// ClassifyExtension maps a file extension to its MediaType.
func ClassifyExtension(ext string) MediaType {
	switch {
	case IsImage(ext):
		return MediaPhotos
	case IsVideo(ext):
		return MediaVideos
	case IsRaw(ext):
		return MediaRaw
	default:
		return MediaOther
	}
}
