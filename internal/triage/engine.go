// Package triage runs post-copy quality checks over copied files: a
// corruption/misnaming check based on content sniffing, and a black-frame
// check for images. Both checks are advisory. Triage never fails a run; a
// check that cannot run degrades to "no flag".
package triage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Flag kinds.
const (
	KindUnreadable = "unreadable"
	KindBlackFrame = "black_frame"
)

// Flag is one advisory finding on a file.
type Flag struct {
	Kind       string   `json:"kind"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence"`
	Metric     *float64 `json:"metric,omitempty"`
}

// Item identifies one copied file to check.
type Item struct {
	// Path is the absolute destination path.
	Path string `json:"path"`

	// RelPath is the path shown in reports.
	RelPath string `json:"rel_path"`
}

// ItemResult pairs an item with its flags.
type ItemResult struct {
	Item
	Flags []Flag `json:"flags,omitempty"`
}

// Options tunes the checks.
type Options struct {
	// GenericTypes lists detected content types treated as "sniffer could
	// not classify". Files whose extension is in ExemptExtensions are not
	// flagged for a generic detection.
	GenericTypes []string

	// ExemptExtensions are extensions the generic sniffer is known not to
	// understand (raw camera formats, QuickTime, HEIC). Defaults cover the
	// raw table plus the usual container suspects.
	ExemptExtensions []string

	// DecodeTimeout bounds a single image decode. 0 means DefaultDecodeTimeout.
	DecodeTimeout time.Duration

	// BatchSize controls progress emission. 0 means every 10 files.
	BatchSize int
}

// DefaultDecodeTimeout bounds a single image decode or header sniff.
const DefaultDecodeTimeout = 10 * time.Second

// Result is the triage summary for one run.
type Result struct {
	Items       []ItemResult  `json:"items"`
	Unreadable  int           `json:"unreadable"`
	BlackFrames int           `json:"black_frames"`
	Elapsed     time.Duration `json:"elapsed"`
}

// ProgressFunc receives batched progress: files done out of total.
type ProgressFunc func(done, total int)

func defaultExemptExtensions() []string {
	return []string{
		".cr2", ".cr3", ".nef", ".arw", ".dng", ".raf", ".orf", ".rw2",
		".mov", ".mts", ".m4v", ".heic", ".heif",
	}
}

func (o Options) withDefaults() Options {
	if len(o.GenericTypes) == 0 {
		o.GenericTypes = []string{"application/octet-stream"}
	}
	if len(o.ExemptExtensions) == 0 {
		o.ExemptExtensions = defaultExemptExtensions()
	}
	if o.DecodeTimeout == 0 {
		o.DecodeTimeout = DefaultDecodeTimeout
	}
	if o.BatchSize == 0 {
		o.BatchSize = 10
	}
	return o
}

// Run executes both checks over every item. The two checks are independent
// and order-insensitive; a decode failure is reported only by the corruption
// check, never twice. Cancellation is observed between files.
func Run(ctx context.Context, items []Item, opts Options, onProgress ProgressFunc) Result {
	opts = opts.withDefaults()
	start := time.Now()

	log.Info().Int("files", len(items)).Msg("Starting triage")

	res := Result{Items: make([]ItemResult, 0, len(items))}
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}

		ir := ItemResult{Item: item}
		ir.Flags = append(ir.Flags, checkHeader(ctx, item.Path, opts)...)
		if flag := checkBlackFrame(ctx, item.Path, opts); flag != nil {
			ir.Flags = append(ir.Flags, *flag)
		}

		for _, f := range ir.Flags {
			switch f.Kind {
			case KindUnreadable:
				res.Unreadable++
			case KindBlackFrame:
				res.BlackFrames++
			}
		}
		res.Items = append(res.Items, ir)

		if onProgress != nil && ((i+1)%opts.BatchSize == 0 || i == len(items)-1) {
			onProgress(i+1, len(items))
		}
	}

	res.Elapsed = time.Since(start)
	log.Info().
		Int("files", len(res.Items)).
		Int("unreadable", res.Unreadable).
		Int("black_frames", res.BlackFrames).
		Dur("elapsed", res.Elapsed).
		Msg("Triage complete")
	return res
}
