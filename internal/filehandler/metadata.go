package filehandler

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// MetadataTimeout bounds a single metadata extraction. EXIF blocks live in
// the first ~64KB of a file, so anything slower than this is a stalled read.
const MetadataTimeout = 5 * time.Second

// CaptureMetadata holds the capture-time fields used for destination routing.
// Every field is independently optional; a zero CaptureMetadata is valid.
type CaptureMetadata struct {
	CaptureDate  time.Time
	HasDate      bool
	CameraMake   string
	CameraModel  string
	CameraSerial string
}

// ExtractCaptureMetadata reads EXIF metadata from a media file using the
// imagemeta library. It never fails: any decode error, unsupported format, or
// timeout degrades to an empty CaptureMetadata, because routing falls back to
// filesystem timestamps and default tokens.
func ExtractCaptureMetadata(ctx context.Context, filePath string) CaptureMetadata {
	ctx, cancel := context.WithTimeout(ctx, MetadataTimeout)
	defer cancel()

	type result struct{ meta CaptureMetadata }
	ch := make(chan result, 1)

	go func() {
		ch <- result{meta: extractCaptureMetadata(filePath)}
	}()

	select {
	case r := <-ch:
		return r.meta
	case <-ctx.Done():
		log.Warn().Str("path", filePath).Msg("Metadata extraction timed out, continuing without it")
		return CaptureMetadata{}
	}
}

func extractCaptureMetadata(filePath string) CaptureMetadata {
	log.Debug().Str("path", filePath).Msg("Extracting EXIF metadata using imagemeta library")

	file, err := os.Open(filePath)
	if err != nil {
		log.Debug().Err(err).Str("path", filePath).Msg("Failed to open file for metadata")
		return CaptureMetadata{}
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		log.Debug().Err(err).Str("path", filePath).Msg("Failed to decode EXIF metadata, continuing without it")
		return CaptureMetadata{}
	}

	meta := CaptureMetadata{
		CameraMake:   strings.TrimSpace(exifData.Make),
		CameraModel:  strings.TrimSpace(exifData.Model),
		CameraSerial: strings.TrimSpace(exifData.CameraSerial),
	}

	// Date fallback chain: DateTimeOriginal > CreateDate > ModifyDate.
	if !exifData.DateTimeOriginal().IsZero() {
		meta.CaptureDate = exifData.DateTimeOriginal()
		meta.HasDate = true
	} else if !exifData.CreateDate().IsZero() {
		meta.CaptureDate = exifData.CreateDate()
		meta.HasDate = true
	} else if !exifData.ModifyDate().IsZero() {
		meta.CaptureDate = exifData.ModifyDate()
		meta.HasDate = true
	}

	log.Debug().
		Str("path", filePath).
		Bool("has_date", meta.HasDate).
		Str("camera", strings.TrimSpace(meta.CameraMake+" "+meta.CameraModel)).
		Msg("Capture metadata extraction complete")

	return meta
}
