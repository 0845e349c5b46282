// Package ingest implements the card offload engine: scan, route, copy with
// hashing, dedup, verification, backup mirroring, sidecar patching, triage,
// and the run manifest that decides whether the source is safe to format.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fpang/media-ingest/internal/hashing"
	"github.com/fpang/media-ingest/internal/triage"
	"github.com/fpang/media-ingest/internal/xmp"
)

// Status is the terminal state of one file in the run.
type Status string

const (
	StatusCopied           Status = "copied"
	StatusSkippedExists    Status = "skipped_exists"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusError            Status = "error"
)

// FileEntry is the per-file record of the run. It is created at copy time and
// mutated in place by the verifier, the triage engine, and the sidecar
// patcher before being frozen into the manifest.
type FileEntry struct {
	Src  string `json:"src"`
	Dst  string `json:"dst,omitempty"`
	Size int64  `json:"size"`

	// Hash is the copy-pass digest, computed from the source read in the
	// same pass as the destination write.
	Hash string `json:"hash,omitempty"`

	// HashDest is the verify-pass digest, recomputed from destination bytes.
	HashDest string `json:"hash_dest,omitempty"`

	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// Verified is tri-state: nil = not checked, true = match, false =
	// mismatch. A mismatch does not change Status; the write succeeded but
	// content diverged, which is a distinct signal.
	Verified *bool `json:"verified,omitempty"`

	BackupDst      string `json:"backup_dst,omitempty"`
	BackupHash     string `json:"backup_hash,omitempty"`
	BackupVerified *bool  `json:"backup_verified,omitempty"`
	BackupError    string `json:"backup_error,omitempty"`

	Triage  []triage.Flag `json:"triage,omitempty"`
	Sidecar *xmp.Result   `json:"sidecar,omitempty"`
}

// Totals aggregates the run. The status counts are an exact partition of
// Files; ComputeTotals enforces that by construction.
type Totals struct {
	Files             int   `json:"files"`
	Copied            int   `json:"copied"`
	SkippedExists     int   `json:"skipped_exists"`
	SkippedDuplicates int   `json:"skipped_duplicates"`
	Errors            int   `json:"errors"`
	BytesCopied       int64 `json:"bytes_copied"`
	BytesSaved        int64 `json:"bytes_saved"`
	Verified          int   `json:"verified"`
	VerifiedMismatch  int   `json:"verified_mismatch"`
	TriageUnreadable  int   `json:"triage_unreadable"`
	TriageBlackFrames int   `json:"triage_black_frames"`
}

// Manifest is the root aggregate of one ingest run.
type Manifest struct {
	RunID         string            `json:"run_id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Source        string            `json:"source"`
	DestRoot      string            `json:"dest_root"`
	ProjectRoot   string            `json:"project_root"`
	BackupRoot    string            `json:"backup_root,omitempty"`
	HashAlgorithm hashing.Algorithm `json:"hash_algorithm"`
	VerifyMode    VerifyMode        `json:"verify_mode"`
	Dedupe        bool              `json:"dedupe"`
	Files         []*FileEntry      `json:"files"`
	Totals        Totals            `json:"totals"`

	// SafeToFormat is the single boolean callers gate source deletion on:
	// no per-file errors, and no verification mismatch if verification ran.
	SafeToFormat bool `json:"safe_to_format"`
}

// ComputeTotals recalculates Totals and SafeToFormat from Files.
func (m *Manifest) ComputeTotals() {
	t := Totals{Files: len(m.Files)}
	for _, e := range m.Files {
		switch e.Status {
		case StatusCopied:
			t.Copied++
			t.BytesCopied += e.Size
		case StatusSkippedExists:
			t.SkippedExists++
		case StatusSkippedDuplicate:
			t.SkippedDuplicates++
			t.BytesSaved += e.Size
		case StatusError:
			t.Errors++
		}
		if e.Verified != nil {
			t.Verified++
			if !*e.Verified {
				t.VerifiedMismatch++
			}
		}
		for _, f := range e.Triage {
			switch f.Kind {
			case triage.KindUnreadable:
				t.TriageUnreadable++
			case triage.KindBlackFrame:
				t.TriageBlackFrames++
			}
		}
	}
	m.Totals = t
	m.SafeToFormat = t.Errors == 0 && (m.VerifyMode == VerifyNone || t.VerifiedMismatch == 0)
}

// WriteJSON persists the manifest as an indented JSON document.
func (m *Manifest) WriteJSON(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Stamp formats a timestamp the way run artifacts are named.
func Stamp(t time.Time) string {
	return t.Format("20060102T150405")
}
