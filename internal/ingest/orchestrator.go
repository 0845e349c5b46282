package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/filehandler"
	"github.com/fpang/media-ingest/internal/hashing"
	"github.com/fpang/media-ingest/internal/template"
	"github.com/fpang/media-ingest/internal/triage"
	"github.com/fpang/media-ingest/internal/xmp"
)

// PreconditionError is a whole-run failure detected before any file is
// processed: unreadable source, invalid template, unwritable destination.
// It is the only failure mode reported out-of-band instead of in the
// manifest.
type PreconditionError struct {
	Stage string
	Err   error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("ingest precondition failed (%s): %v", e.Stage, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a whole-run precondition failure, as
// opposed to a cancelled run.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// Options configures one ingest run.
type Options struct {
	Source   string
	DestRoot string

	// Template routes files into the project tree. Nil selects the built-in
	// date-based template.
	Template *template.FolderTemplate

	// Context supplies user token values (CLIENT, JOB, CAMERA_LABEL, ...).
	// They take precedence over file-derived values.
	Context map[string]string

	Hash      hashing.Algorithm
	Verify    VerifyMode
	Dedupe    bool
	Overwrite bool

	// BackupRoot, when set, mirrors every copied file to a second
	// destination through the same copy and verify pipeline.
	BackupRoot string

	// XMP, when non-zero, is merged into a sidecar next to each copied file.
	XMP xmp.Patch

	// Triage enables the post-copy quality checks.
	Triage        bool
	TriageOptions triage.Options

	// Bundle packs the manifest, report, and triage exports into a zip.
	Bundle bool

	Scan filehandler.ScanOptions
}

// Run executes a full ingest: scan, route+copy, verify, optional backup
// mirror, optional sidecar patch, triage, manifest and reports. Once
// preconditions pass, a manifest is always produced; per-file failures are
// recorded in it, never returned. The returned error is either a
// *PreconditionError or the context's cancellation error.
func Run(ctx context.Context, opts Options, onProgress ProgressFunc) (*Manifest, error) {
	start := time.Now()

	if opts.Template == nil {
		opts.Template = template.Default()
	}
	if opts.Hash == "" {
		opts.Hash = hashing.SHA256
	}
	if opts.Verify == "" {
		opts.Verify = VerifySentinel
	}

	// Preconditions. All of these abort before any file is touched.
	srcInfo, err := os.Stat(opts.Source)
	if err != nil || !srcInfo.IsDir() {
		if err == nil {
			err = fmt.Errorf("source is not a directory: %s", opts.Source)
		}
		return nil, &PreconditionError{Stage: "source", Err: err}
	}
	if err := opts.Template.Validate(); err != nil {
		return nil, &PreconditionError{Stage: "template", Err: err}
	}
	if err := ensureWritable(opts.DestRoot); err != nil {
		return nil, &PreconditionError{Stage: "destination", Err: err}
	}
	if opts.BackupRoot != "" {
		if err := ensureWritable(opts.BackupRoot); err != nil {
			return nil, &PreconditionError{Stage: "backup destination", Err: err}
		}
	}

	m := &Manifest{
		RunID:         uuid.NewString(),
		StartedAt:     start,
		Source:        opts.Source,
		DestRoot:      opts.DestRoot,
		BackupRoot:    opts.BackupRoot,
		HashAlgorithm: opts.Hash,
		VerifyMode:    opts.Verify,
		Dedupe:        opts.Dedupe,
	}

	log.Info().
		Str("run_id", m.RunID).
		Str("source", opts.Source).
		Str("dest", opts.DestRoot).
		Str("hash", string(opts.Hash)).
		Str("verify", string(opts.Verify)).
		Bool("dedupe", opts.Dedupe).
		Msg("Starting ingest run")

	onProgress.emit(Event{Kind: EventStart, Message: m.RunID})

	// Scan.
	files, err := filehandler.ScanSource(opts.Source, opts.Scan)
	if err != nil {
		return nil, &PreconditionError{Stage: "scan", Err: err}
	}
	var totalBytes int64
	for _, f := range files {
		totalBytes += f.Size
	}
	onProgress.emit(Event{Kind: EventScanProgress, TotalFiles: len(files), TotalBytes: totalBytes})

	// Project root and scaffold.
	projectRoot, err := resolveProjectRoot(opts, start)
	if err != nil {
		return nil, &PreconditionError{Stage: "project root", Err: err}
	}
	m.ProjectRoot = projectRoot
	if err := os.MkdirAll(projectRoot, 0o755); err != nil {
		return nil, &PreconditionError{Stage: "project root", Err: err}
	}
	for _, dir := range opts.Template.Scaffold {
		if err := os.MkdirAll(filepath.Join(projectRoot, filepath.FromSlash(dir)), 0o755); err != nil {
			return nil, &PreconditionError{Stage: "scaffold", Err: err}
		}
	}

	finalize := func(runErr error) (*Manifest, error) {
		m.FinishedAt = time.Now()
		m.ComputeTotals()
		return m, runErr
	}

	// Route + copy + hash + dedupe.
	cardLabel := filepath.Base(opts.Source)
	cp := newCopier(opts.Hash, opts.Dedupe, opts.Overwrite)
	var bytesDone int64
	for i, desc := range files {
		if err := ctx.Err(); err != nil {
			return finalize(err)
		}

		srcAbs := filepath.Join(opts.Source, filepath.FromSlash(desc.RelPath))
		entry := &FileEntry{Src: desc.RelPath, Size: desc.Size}
		m.Files = append(m.Files, entry)

		dstPath, routeErr := routeFile(ctx, opts, desc, srcAbs, projectRoot, cardLabel)
		if routeErr != nil {
			entry.Status = StatusError
			entry.Error = routeErr.Error()
			log.Warn().Err(routeErr).Str("src", desc.RelPath).Msg("Routing failed, continuing with next file")
		} else if err := cp.process(ctx, srcAbs, dstPath, entry); err != nil {
			// Cancelled mid-run; the entry never completed.
			m.Files = m.Files[:len(m.Files)-1]
			return finalize(err)
		}

		bytesDone += desc.Size
		if entry.Status == StatusSkippedDuplicate {
			onProgress.emit(Event{Kind: EventDedupeHit, Path: desc.RelPath, Message: entry.DuplicateOf})
		}
		onProgress.emit(Event{
			Kind:       EventCopyProgress,
			Path:       desc.RelPath,
			FileIndex:  i + 1,
			TotalFiles: len(files),
			Bytes:      bytesDone,
			TotalBytes: totalBytes,
		})
	}

	// Verify.
	if err := verifyEntries(ctx, m.Files, opts.Verify, opts.Hash, primaryTarget(), onProgress); err != nil {
		return finalize(err)
	}

	// Backup mirror.
	if opts.BackupRoot != "" {
		if err := mirrorEntries(ctx, m, opts, onProgress); err != nil {
			return finalize(err)
		}
	}

	// Sidecar patch.
	if !opts.XMP.IsZero() {
		for i, e := range m.Files {
			if e.Status != StatusCopied {
				continue
			}
			if err := ctx.Err(); err != nil {
				return finalize(err)
			}
			res := xmp.Apply(e.Dst, opts.XMP)
			e.Sidecar = &res
			onProgress.emit(Event{Kind: EventSidecarProgress, Path: e.Dst, FileIndex: i + 1, TotalFiles: len(m.Files)})
		}
	}

	// Triage.
	if opts.Triage {
		runTriagePhase(ctx, m, opts, onProgress)
	}

	// Manifest, report, bundle.
	m.FinishedAt = time.Now()
	m.ComputeTotals()

	stamp := Stamp(start)
	manifestPath := filepath.Join(projectRoot, "ingest_manifest_"+stamp+".json")
	if err := m.WriteJSON(manifestPath); err != nil {
		log.Error().Err(err).Msg("Failed to persist manifest")
	}
	reportPath := filepath.Join(projectRoot, "ingest_report_"+stamp+".html")
	if err := WriteHTMLReport(reportPath, m); err != nil {
		log.Error().Err(err).Msg("Failed to write HTML report")
	}
	if opts.Bundle {
		bundlePath := filepath.Join(projectRoot, "ingest_"+stamp+".zip")
		if err := WriteBundle(bundlePath, manifestPath, reportPath, triageArtifacts(projectRoot, stamp)); err != nil {
			log.Error().Err(err).Msg("Failed to write report bundle")
		}
	}
	onProgress.emit(Event{Kind: EventReportGenerated, Path: reportPath})

	onProgress.emit(Event{
		Kind:         EventDone,
		Succeeded:    m.Totals.Copied + m.Totals.SkippedExists + m.Totals.SkippedDuplicates,
		Failed:       m.Totals.Errors,
		Elapsed:      m.FinishedAt.Sub(m.StartedAt),
		SafeToFormat: m.SafeToFormat,
	})

	log.Info().
		Str("run_id", m.RunID).
		Int("copied", m.Totals.Copied).
		Int("duplicates", m.Totals.SkippedDuplicates).
		Int("errors", m.Totals.Errors).
		Bool("safe_to_format", m.SafeToFormat).
		Dur("elapsed", m.FinishedAt.Sub(m.StartedAt)).
		Msg("Ingest run complete")

	return m, nil
}

// routeFile resolves the destination path for one descriptor: capture
// metadata, token context, first matching rule, safe expansion.
func routeFile(ctx context.Context, opts Options, desc filehandler.FileDescriptor, srcAbs, projectRoot, cardLabel string) (string, error) {
	meta := filehandler.CaptureMetadata{}
	if mt := desc.MediaType(); mt == filehandler.MediaPhotos || mt == filehandler.MediaRaw {
		meta = filehandler.ExtractCaptureMetadata(ctx, srcAbs)
	}

	attrs := template.FileAttrs{
		RelPath:   desc.RelPath,
		ModTime:   desc.ModTime,
		MediaType: desc.MediaType(),
		Capture:   meta,
		CardLabel: cardLabel,
	}
	tokenCtx := template.BuildTokenContext(attrs, opts.Context, opts.Template.Defaults)

	pattern := template.FallbackPattern
	if rule, ok := opts.Template.Route(desc.MediaType(), desc.Ext()); ok {
		pattern = rule.Pattern
	}

	relDir, err := template.Expand(pattern, tokenCtx)
	if err != nil {
		return "", err
	}

	return filepath.Join(projectRoot, filepath.FromSlash(relDir), filepath.Base(desc.RelPath)), nil
}

// resolveProjectRoot expands the template's job-root pattern under the
// destination root, using run-level tokens (run start date, user context).
func resolveProjectRoot(opts Options, start time.Time) (string, error) {
	if opts.Template.JobRoot == "" {
		return opts.DestRoot, nil
	}
	attrs := template.FileAttrs{ModTime: start, CardLabel: filepath.Base(opts.Source)}
	tokenCtx := template.BuildTokenContext(attrs, opts.Context, opts.Template.Defaults)
	rel, err := template.Expand(opts.Template.JobRoot, tokenCtx)
	if err != nil {
		return "", err
	}
	return filepath.Join(opts.DestRoot, filepath.FromSlash(rel)), nil
}

// mirrorEntries copies every successfully copied file to the backup root,
// preserving the project-relative layout, then verifies the mirror under the
// run's verify mode.
func mirrorEntries(ctx context.Context, m *Manifest, opts Options, onProgress ProgressFunc) error {
	onProgress.emit(Event{Kind: EventBackupStart, Path: opts.BackupRoot})

	idx := 0
	for _, e := range m.Files {
		if e.Status != StatusCopied {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		idx++

		rel, err := filepath.Rel(m.ProjectRoot, e.Dst)
		if err != nil {
			rel = filepath.Base(e.Dst)
		}
		backupDst := filepath.Join(opts.BackupRoot, rel)

		digest, err := copyWithHash(ctx, e.Dst, backupDst, opts.Hash)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.BackupError = err.Error()
			log.Warn().Err(err).Str("dst", backupDst).Msg("Backup copy failed, continuing")
			continue
		}
		e.BackupDst = backupDst
		e.BackupHash = digest
		if digest != e.Hash {
			// Primary destination already diverged from the copy-pass digest.
			mismatch := false
			e.BackupVerified = &mismatch
		}

		onProgress.emit(Event{
			Kind:      EventBackupCopyProgress,
			Path:      backupDst,
			FileIndex: idx,
			Bytes:     e.Size,
		})
	}

	return verifyEntries(ctx, m.Files, opts.Verify, opts.Hash, backupTarget(), onProgress)
}

// runTriagePhase checks copied entries and attaches flags to them, then
// persists the triage exports next to the manifest.
func runTriagePhase(ctx context.Context, m *Manifest, opts Options, onProgress ProgressFunc) {
	var items []triage.Item
	var entries []*FileEntry
	for _, e := range m.Files {
		if e.Status != StatusCopied {
			continue
		}
		items = append(items, triage.Item{Path: e.Dst, RelPath: e.Src})
		entries = append(entries, e)
	}
	if len(items) == 0 {
		return
	}

	res := triage.Run(ctx, items, opts.TriageOptions, func(done, total int) {
		onProgress.emit(Event{Kind: EventTriageProgress, FileIndex: done, TotalFiles: total})
	})

	for i, ir := range res.Items {
		if i < len(entries) && len(ir.Flags) > 0 {
			entries[i].Triage = ir.Flags
		}
	}

	stamp := Stamp(m.StartedAt)
	if err := triage.WriteJSON(filepath.Join(m.ProjectRoot, "triage_"+stamp+".json"), res); err != nil {
		log.Error().Err(err).Msg("Failed to write triage result")
	}
	if err := triage.WriteCSV(filepath.Join(m.ProjectRoot, "triage_"+stamp+".csv"), res); err != nil {
		log.Error().Err(err).Msg("Failed to write triage export")
	}

	onProgress.emit(Event{
		Kind:       EventTriageDone,
		Succeeded:  len(res.Items) - res.Unreadable,
		Failed:     res.Unreadable,
		Elapsed:    res.Elapsed,
		TotalFiles: len(res.Items),
	})
}

// triageArtifacts lists the triage export paths that exist for this run.
func triageArtifacts(projectRoot, stamp string) []string {
	var out []string
	for _, name := range []string{"triage_" + stamp + ".json", "triage_" + stamp + ".csv"} {
		p := filepath.Join(projectRoot, name)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// ensureWritable creates the directory if needed and probes it with a temp
// file, so an unwritable destination fails the run before any copy starts.
func ensureWritable(dir string) error {
	if dir == "" {
		return errors.New("destination not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create destination: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".ingest-probe-*")
	if err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}
