package triage

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/filehandler"
)

// sniffLen is the header sample size; http.DetectContentType inspects at
// most 512 bytes.
const sniffLen = 512

// preciseExpected maps extensions to the exact type the sniffer reports for
// a healthy file. A precise entry applies regardless of any generic-type
// exemption: a .jpg that sniffs as PNG is misnamed even if raw files get a
// pass.
var preciseExpected = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".mp4":  "video/mp4",
	".avi":  "video/avi",
	".webm": "video/webm",
}

// decodableImage marks extensions with a registered Go image decoder, which
// enables the full metadata-decode pass.
var decodableImage = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// checkHeader is the corruption/misnaming check: sniff a bounded header
// sample and compare the detected type against what the extension promises.
func checkHeader(ctx context.Context, path string, opts Options) []Flag {
	ext := strings.ToLower(filepath.Ext(path))

	buf, err := readHeader(path)
	if err != nil {
		return []Flag{{
			Kind:       KindUnreadable,
			Reason:     fmt.Sprintf("cannot read file: %v", err),
			Confidence: 1.0,
		}}
	}
	if len(buf) == 0 {
		return []Flag{{
			Kind:       KindUnreadable,
			Reason:     "file is empty",
			Confidence: 0.9,
		}}
	}

	detected := http.DetectContentType(buf)
	detected = strings.TrimSpace(strings.SplitN(detected, ";", 2)[0])

	// Precise table first: an exact expectation always applies.
	if want, ok := preciseExpected[ext]; ok {
		if detected != want {
			return []Flag{{
				Kind:       KindUnreadable,
				Reason:     fmt.Sprintf("content is %s but extension expects %s", detected, want),
				Confidence: 0.8,
			}}
		}
		return decodeCheck(ctx, path, ext, opts)
	}

	// Generic detection: formats the sniffer cannot classify (raw camera
	// files, QuickTime, HEIC) are exempt; anything else unrecognized is
	// suspicious but weakly so.
	if contains(opts.GenericTypes, detected) {
		if contains(opts.ExemptExtensions, ext) {
			return nil
		}
		if filehandler.ClassifyExtension(ext) == filehandler.MediaOther {
			return nil
		}
		return []Flag{{
			Kind:       KindUnreadable,
			Reason:     "content type unrecognized",
			Confidence: 0.6,
		}}
	}

	// Broad-category check: detected family vs the family the extension
	// belongs to.
	expectFamily := familyOf(filehandler.ClassifyExtension(ext))
	detectFamily := strings.SplitN(detected, "/", 2)[0]
	if expectFamily != "" && detectFamily != expectFamily {
		return []Flag{{
			Kind:       KindUnreadable,
			Reason:     fmt.Sprintf("content is %s but extension expects a %s format", detected, expectFamily),
			Confidence: 0.7,
		}}
	}

	return decodeCheck(ctx, path, ext, opts)
}

// decodeCheck runs the full metadata decode for decodable image formats. A
// header that sniffs correctly can still be a truncated or corrupt file.
func decodeCheck(ctx context.Context, path, ext string, opts Options) []Flag {
	if !decodableImage[ext] {
		return nil
	}

	ok := runBounded(ctx, opts.DecodeTimeout, func() bool {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		defer f.Close()
		_, _, err = image.DecodeConfig(f)
		return err == nil
	})
	if ok == nil {
		log.Warn().Str("path", path).Msg("Image decode check timed out, skipping")
		return nil
	}
	if !*ok {
		return []Flag{{
			Kind:       KindUnreadable,
			Reason:     "image metadata decode failed",
			Confidence: 0.9,
		}}
	}
	return nil
}

func familyOf(mt filehandler.MediaType) string {
	switch mt {
	case filehandler.MediaPhotos, filehandler.MediaRaw:
		return "image"
	case filehandler.MediaVideos:
		return "video"
	default:
		return ""
	}
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// runBounded runs fn with a deadline. It returns nil when the deadline or
// the surrounding context expires first; external decode work must degrade
// to "no result", never stall the run.
func runBounded(ctx context.Context, timeout time.Duration, fn func() bool) *bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan bool, 1)
	go func() { ch <- fn() }()

	select {
	case v := <-ch:
		return &v
	case <-ctx.Done():
		return nil
	}
}
