package triage

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registered decoders for the black-frame and decode checks. JPEG, PNG,
	// and GIF come from the standard library; TIFF, BMP, and WebP from
	// golang.org/x/image.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// The black-frame check downsamples to a fixed grid and measures mean 8-bit
// luminance. Below blackThreshold the image is almost certainly a lens-cap
// or pocket shot; below darkThreshold it is merely very dark.
const (
	blackFrameGrid = 16
	blackThreshold = 10.0
	darkThreshold  = 26.0

	blackConfidence = 0.95
	darkConfidence  = 0.6
)

// checkBlackFrame flags near-black images. It applies to decodable image
// formats only, and a decode failure is swallowed without a flag: the
// corruption check owns decode-failure reporting, and the same root cause
// must never be reported twice.
func checkBlackFrame(ctx context.Context, path string, opts Options) *Flag {
	ext := strings.ToLower(filepath.Ext(path))
	if !decodableImage[ext] {
		return nil
	}

	mean := runBoundedFloat(ctx, opts.DecodeTimeout, func() (float64, bool) {
		return meanLuminance(path)
	})
	if mean == nil {
		return nil
	}

	m := *mean
	switch {
	case m < blackThreshold:
		return &Flag{
			Kind:       KindBlackFrame,
			Reason:     fmt.Sprintf("near-black frame (mean luminance %.1f/255) - likely lens cap or accidental shot", m),
			Confidence: blackConfidence,
			Metric:     &m,
		}
	case m < darkThreshold:
		return &Flag{
			Kind:       KindBlackFrame,
			Reason:     fmt.Sprintf("very dark frame (mean luminance %.1f/255) - possibly intentional", m),
			Confidence: darkConfidence,
			Metric:     &m,
		}
	default:
		return nil
	}
}

// meanLuminance decodes the image, downsamples it to the fixed grid in
// grayscale, and returns the mean pixel value.
func meanLuminance(path string) (float64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, false
	}

	gray := image.NewGray(image.Rect(0, 0, blackFrameGrid, blackFrameGrid))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range gray.Pix {
		sum += int(p)
	}
	return float64(sum) / float64(len(gray.Pix)), true
}

// runBoundedFloat is runBounded for checks that produce a measurement.
func runBoundedFloat(ctx context.Context, timeout time.Duration, fn func() (float64, bool)) *float64 {
	type res struct {
		v  float64
		ok bool
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan res, 1)
	go func() {
		v, ok := fn()
		ch <- res{v, ok}
	}()

	select {
	case r := <-ch:
		if !r.ok {
			return nil
		}
		return &r.v
	case <-ctx.Done():
		return nil
	}
}
