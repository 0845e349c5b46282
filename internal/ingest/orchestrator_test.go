package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpang/media-ingest/internal/filehandler"
	"github.com/fpang/media-ingest/internal/hashing"
	"github.com/fpang/media-ingest/internal/template"
	"github.com/fpang/media-ingest/internal/xmp"
)

// testTemplate routes by media type with no job root, so the project root is
// the destination root and assertions stay path-stable.
func testTemplate() *template.FolderTemplate {
	return &template.FolderTemplate{
		Name: "test",
		Rules: []template.RoutingRule{
			{
				Label:   "photos",
				Match:   &template.RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaPhotos, filehandler.MediaRaw}},
				Pattern: "photos",
			},
			{
				Label:   "videos",
				Match:   &template.RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaVideos}},
				Pattern: "videos",
			},
			{Label: "rest", Pattern: "unsorted"},
		},
	}
}

func jpegBytes(t *testing.T, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = gray
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func seedCard(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeSrc(t, src, "DCIM/100CANON/IMG_0001.JPG", jpegBytes(t, 128))
	writeSrc(t, src, "DCIM/100CANON/MVI_0002.MP4", []byte("not really a video"))
	writeSrc(t, src, "MISC/notes.txt", []byte("shot list"))
	return src
}

func TestRunEndToEnd(t *testing.T) {
	src := seedCard(t)
	dest := t.TempDir()

	var events []Event
	m, err := Run(context.Background(), Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Hash:     hashing.SHA256,
		Verify:   VerifyFull,
		Dedupe:   true,
	}, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.Totals.Files != 3 || m.Totals.Copied != 3 || m.Totals.Errors != 0 {
		t.Fatalf("totals = %+v", m.Totals)
	}
	if !m.SafeToFormat {
		t.Error("clean verified run must be safe to format")
	}
	if m.ProjectRoot != dest {
		t.Errorf("project root = %q, want dest root", m.ProjectRoot)
	}

	for _, want := range []string{
		"photos/IMG_0001.JPG",
		"videos/MVI_0002.MP4",
		"unsorted/notes.txt",
	} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(want))); err != nil {
			t.Errorf("missing destination file %s: %v", want, err)
		}
	}

	// Full verification covers every copy and the digests agree.
	for _, e := range m.Files {
		if e.Verified == nil || !*e.Verified {
			t.Errorf("%s not verified clean", e.Src)
		}
		if e.HashDest != e.Hash {
			t.Errorf("%s: copy digest %s != dest digest %s", e.Src, e.Hash, e.HashDest)
		}
	}

	// Run artifacts land in the project root.
	manifests, _ := filepath.Glob(filepath.Join(dest, "ingest_manifest_*.json"))
	if len(manifests) != 1 {
		t.Errorf("manifest files = %v", manifests)
	}
	reports, _ := filepath.Glob(filepath.Join(dest, "ingest_report_*.html"))
	if len(reports) != 1 {
		t.Errorf("report files = %v", reports)
	}

	// Progress protocol: starts with start, ends with done, copy progress is
	// monotonic in the file index.
	if len(events) == 0 || events[0].Kind != EventStart {
		t.Fatal("first event must be start")
	}
	last := events[len(events)-1]
	if last.Kind != EventDone || !last.SafeToFormat {
		t.Errorf("last event = %+v", last)
	}
	prev := 0
	for _, e := range events {
		if e.Kind != EventCopyProgress {
			continue
		}
		if e.FileIndex <= prev {
			t.Errorf("copy progress index went %d -> %d", prev, e.FileIndex)
		}
		prev = e.FileIndex
	}
	if prev != 3 {
		t.Errorf("final copy index = %d, want 3", prev)
	}
}

func TestRunIdempotent(t *testing.T) {
	src := seedCard(t)
	dest := t.TempDir()
	opts := Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Verify:   VerifyNone,
		Dedupe:   true,
	}

	if _, err := Run(context.Background(), opts, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	m, err := Run(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if m.Totals.Copied != 0 || m.Totals.SkippedExists != 3 {
		t.Fatalf("second run totals = %+v", m.Totals)
	}
	if !m.SafeToFormat {
		t.Error("re-run over existing destinations must stay safe")
	}
}

func TestRunDedupe(t *testing.T) {
	src := t.TempDir()
	same := jpegBytes(t, 128)
	writeSrc(t, src, "DCIM/IMG_0001.JPG", same)
	writeSrc(t, src, "DCIM_COPY/IMG_0001.JPG", same)
	dest := t.TempDir()

	var hits int
	m, err := Run(context.Background(), Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Verify:   VerifyNone,
		Dedupe:   true,
	}, func(e Event) {
		if e.Kind == EventDedupeHit {
			hits++
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.Totals.Copied != 1 || m.Totals.SkippedDuplicates != 1 {
		t.Fatalf("totals = %+v", m.Totals)
	}
	if m.Totals.BytesSaved != int64(len(same)) {
		t.Errorf("bytes saved = %d, want %d", m.Totals.BytesSaved, len(same))
	}
	if hits != 1 {
		t.Errorf("dedupe hits = %d, want 1", hits)
	}

	var dup *FileEntry
	for _, e := range m.Files {
		if e.Status == StatusSkippedDuplicate {
			dup = e
		}
	}
	if dup == nil || dup.DuplicateOf == "" {
		t.Fatal("duplicate entry missing its duplicate_of link")
	}
}

func TestRunJobRoot(t *testing.T) {
	src := seedCard(t)
	dest := t.TempDir()

	tmpl := testTemplate()
	tmpl.JobRoot = "{YYYY}_{JOB}"
	tmpl.Scaffold = []string{"exports"}

	m, err := Run(context.Background(), Options{
		Source:   src,
		DestRoot: dest,
		Template: tmpl,
		Context:  map[string]string{"JOB": "smith_wedding"},
		Verify:   VerifyNone,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if filepath.Dir(m.ProjectRoot) != dest {
		t.Errorf("project root %q not directly under dest", m.ProjectRoot)
	}
	base := filepath.Base(m.ProjectRoot)
	if !strings.HasSuffix(base, "_smith_wedding") {
		t.Errorf("project root base = %q", base)
	}
	if _, err := os.Stat(filepath.Join(m.ProjectRoot, "exports")); err != nil {
		t.Errorf("scaffold directory missing: %v", err)
	}
}

func TestRunBackupMirror(t *testing.T) {
	src := seedCard(t)
	dest, backup := t.TempDir(), t.TempDir()

	m, err := Run(context.Background(), Options{
		Source:     src,
		DestRoot:   dest,
		Template:   testTemplate(),
		Verify:     VerifyFull,
		BackupRoot: backup,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, e := range m.Files {
		if e.Status != StatusCopied {
			continue
		}
		if e.BackupDst == "" {
			t.Errorf("%s has no backup destination", e.Src)
			continue
		}
		if e.BackupVerified == nil || !*e.BackupVerified {
			t.Errorf("%s backup not verified clean", e.Src)
		}
		if e.BackupHash != e.Hash {
			t.Errorf("%s backup digest differs", e.Src)
		}
		if _, err := os.Stat(e.BackupDst); err != nil {
			t.Errorf("backup file missing: %v", err)
		}
		rel, _ := filepath.Rel(backup, e.BackupDst)
		primaryRel, _ := filepath.Rel(m.ProjectRoot, e.Dst)
		if rel != primaryRel {
			t.Errorf("backup layout %q != primary layout %q", rel, primaryRel)
		}
	}
}

func TestRunTriageAttachesFlags(t *testing.T) {
	src := t.TempDir()
	writeSrc(t, src, "IMG_0001.JPG", jpegBytes(t, 128))
	writeSrc(t, src, "IMG_0002.JPG", jpegBytes(t, 4)) // lens cap
	dest := t.TempDir()

	m, err := Run(context.Background(), Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Verify:   VerifyNone,
		Triage:   true,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.Totals.TriageBlackFrames != 1 {
		t.Errorf("black frames = %d, want 1", m.Totals.TriageBlackFrames)
	}
	if !m.SafeToFormat {
		t.Error("advisory triage flags must not block formatting")
	}

	flagged := false
	for _, e := range m.Files {
		if e.Src == "IMG_0002.JPG" && len(e.Triage) == 1 {
			flagged = true
		}
		if e.Src == "IMG_0001.JPG" && len(e.Triage) != 0 {
			t.Errorf("healthy file flagged: %+v", e.Triage)
		}
	}
	if !flagged {
		t.Error("near-black file carries no triage flag")
	}

	exports, _ := filepath.Glob(filepath.Join(dest, "triage_*"))
	if len(exports) != 2 {
		t.Errorf("triage exports = %v, want json and csv", exports)
	}
}

func TestRunBundle(t *testing.T) {
	src := seedCard(t)
	dest := t.TempDir()

	_, err := Run(context.Background(), Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Verify:   VerifyNone,
		Bundle:   true,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	bundles, _ := filepath.Glob(filepath.Join(dest, "ingest_*.zip"))
	if len(bundles) != 1 {
		t.Fatalf("bundle files = %v", bundles)
	}
	zr, err := zip.OpenReader(bundles[0])
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer zr.Close()
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if len(names) < 2 {
		t.Errorf("bundle contents = %v, want manifest and report", names)
	}
}

func TestRunSidecars(t *testing.T) {
	src := t.TempDir()
	writeSrc(t, src, "IMG_0001.JPG", jpegBytes(t, 128))
	dest := t.TempDir()

	creator := "Jordan Smith"
	m, err := Run(context.Background(), Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Verify:   VerifyNone,
		XMP:      xmp.Patch{Creator: &creator},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	e := m.Files[0]
	if e.Sidecar == nil || !e.Sidecar.Written {
		t.Fatalf("sidecar = %+v", e.Sidecar)
	}
	if _, err := os.Stat(e.Sidecar.SidecarPath); err != nil {
		t.Errorf("sidecar missing: %v", err)
	}
	if filepath.Ext(e.Sidecar.SidecarPath) != ".xmp" {
		t.Errorf("sidecar path = %q", e.Sidecar.SidecarPath)
	}
}

func TestRunPreconditions(t *testing.T) {
	dest := t.TempDir()

	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "missing source",
			opts: Options{Source: filepath.Join(dest, "nope"), DestRoot: dest},
		},
		{
			name: "source is a file",
			opts: Options{Source: writeSrc(t, dest, "file.bin", []byte("x")), DestRoot: dest},
		},
		{
			name: "invalid template",
			opts: Options{Source: dest, DestRoot: dest, Template: &template.FolderTemplate{Name: "empty"}},
		},
		{
			name: "no destination",
			opts: Options{Source: dest},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.opts, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !IsPrecondition(err) {
				t.Errorf("error %v is not a precondition failure", err)
			}
		})
	}
}

func TestRunCancelledMidRun(t *testing.T) {
	src := seedCard(t)
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	m, err := Run(ctx, Options{
		Source:   src,
		DestRoot: dest,
		Template: testTemplate(),
		Verify:   VerifyNone,
	}, func(e Event) {
		if e.Kind == EventCopyProgress && e.FileIndex == 1 {
			cancel()
		}
	})
	if err == nil {
		t.Fatal("cancelled run must return the context error")
	}
	if IsPrecondition(err) {
		t.Error("cancellation is not a precondition failure")
	}
	if m == nil {
		t.Fatal("cancelled run must still return the partial manifest")
	}
	for _, e := range m.Files {
		if e.Status == "" {
			t.Errorf("incomplete entry left in manifest: %+v", e)
		}
	}
}
