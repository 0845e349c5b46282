package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fpang/media-ingest/internal/hashing"
)

func TestParseVerifyMode(t *testing.T) {
	tests := []struct {
		name        string
		expected    VerifyMode
		expectError bool
	}{
		{"none", VerifyNone, false},
		{"sentinel", VerifySentinel, false},
		{"full", VerifyFull, false},
		{"", VerifySentinel, false},
		{"twice", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := ParseVerifyMode(tt.name)
			if tt.expectError {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mode != tt.expected {
				t.Errorf("mode = %v, want %v", mode, tt.expected)
			}
		})
	}
}

// copyEntries materializes n copied files with real destinations and
// copy-pass digests, sized so the largest sits in the middle of the run.
func copyEntries(t *testing.T, n int) []*FileEntry {
	t.Helper()
	dir := t.TempDir()
	entries := make([]*FileEntry, n)
	for i := range entries {
		size := 10 + i
		if i == n/2 {
			size = 1000 // the sentinel "largest"
		}
		content := make([]byte, size)
		for j := range content {
			content[j] = byte(i)
		}
		dst := filepath.Join(dir, fmt.Sprintf("file_%03d.bin", i))
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		digest, err := hashFile(context.Background(), dst, hashing.SHA256)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		entries[i] = &FileEntry{
			Src:    fmt.Sprintf("file_%03d.bin", i),
			Dst:    dst,
			Size:   int64(size),
			Hash:   digest,
			Status: StatusCopied,
		}
	}
	return entries
}

func TestVerifySentinelSelection(t *testing.T) {
	entries := copyEntries(t, 10)

	err := verifyEntries(context.Background(), entries, VerifySentinel, hashing.SHA256, primaryTarget(), nil)
	if err != nil {
		t.Fatalf("verifyEntries: %v", err)
	}

	verified := 0
	for i, e := range entries {
		if e.Verified == nil {
			continue
		}
		verified++
		if !*e.Verified {
			t.Errorf("entry %d recorded a mismatch on identical content", i)
		}
		if e.HashDest != e.Hash {
			t.Errorf("entry %d hash_dest differs", i)
		}
		if i != 0 && i != 9 && i != 5 {
			t.Errorf("entry %d verified; sentinel covers first, last, and largest only", i)
		}
	}
	if verified != 3 {
		t.Errorf("verified %d entries, want 3", verified)
	}
}

func TestVerifyFullCoversEveryCopy(t *testing.T) {
	entries := copyEntries(t, 4)
	entries = append(entries, &FileEntry{Src: "skipped.bin", Status: StatusSkippedExists})

	if err := verifyEntries(context.Background(), entries, VerifyFull, hashing.SHA256, primaryTarget(), nil); err != nil {
		t.Fatalf("verifyEntries: %v", err)
	}
	for i, e := range entries {
		if e.Status != StatusCopied {
			if e.Verified != nil {
				t.Errorf("non-copied entry %d was verified", i)
			}
			continue
		}
		if e.Verified == nil || !*e.Verified {
			t.Errorf("entry %d not verified clean", i)
		}
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	entries := copyEntries(t, 3)

	// Flip destination bytes after the copy digest was recorded.
	if err := os.WriteFile(entries[1].Dst, []byte("corrupted after copy"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if err := verifyEntries(context.Background(), entries, VerifyFull, hashing.SHA256, primaryTarget(), nil); err != nil {
		t.Fatalf("verifyEntries: %v", err)
	}
	if entries[1].Verified == nil || *entries[1].Verified {
		t.Fatal("corrupted destination not recorded as mismatch")
	}
	if entries[1].Status != StatusCopied {
		t.Error("a mismatch must not change the copy status")
	}
	if entries[0].Verified == nil || !*entries[0].Verified {
		t.Error("healthy sibling must still verify clean")
	}

	m := &Manifest{VerifyMode: VerifyFull, Files: entries}
	m.ComputeTotals()
	if m.SafeToFormat {
		t.Error("a verification mismatch must block safe_to_format")
	}
}

func TestVerifyUnreadableDestination(t *testing.T) {
	entries := copyEntries(t, 1)
	if err := os.Remove(entries[0].Dst); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := verifyEntries(context.Background(), entries, VerifyFull, hashing.SHA256, primaryTarget(), nil); err != nil {
		t.Fatalf("verifyEntries: %v", err)
	}
	if entries[0].Verified == nil || *entries[0].Verified {
		t.Error("unreadable destination must count as mismatch")
	}
}

func TestVerifyNoneIsNoop(t *testing.T) {
	entries := copyEntries(t, 2)
	if err := verifyEntries(context.Background(), entries, VerifyNone, hashing.SHA256, primaryTarget(), nil); err != nil {
		t.Fatalf("verifyEntries: %v", err)
	}
	for i, e := range entries {
		if e.Verified != nil {
			t.Errorf("entry %d verified under mode none", i)
		}
	}
}

func TestVerifyBackupTarget(t *testing.T) {
	entries := copyEntries(t, 2)
	for _, e := range entries {
		e.BackupDst = e.Dst // mirror of itself is a faithful mirror
	}

	if err := verifyEntries(context.Background(), entries, VerifyFull, hashing.SHA256, backupTarget(), nil); err != nil {
		t.Fatalf("verifyEntries: %v", err)
	}
	for i, e := range entries {
		if e.BackupVerified == nil || !*e.BackupVerified {
			t.Errorf("entry %d backup not verified", i)
		}
		if e.Verified != nil {
			t.Errorf("entry %d primary state touched by backup pass", i)
		}
		if e.BackupHash != e.Hash {
			t.Errorf("entry %d backup hash differs", i)
		}
	}
}

func TestVerifySentinelTieBreak(t *testing.T) {
	entries := copyEntries(t, 3)
	// Equalize sizes: the tie on "largest" must keep the first occurrence.
	for _, e := range entries {
		e.Size = 10
	}
	selected := selectForVerify(entries, VerifySentinel, primaryTarget())
	if !selected[0] || !selected[2] {
		t.Error("first and last must be selected")
	}
	if selected[1] {
		t.Error("tie on size must resolve to the first entry, not a middle one")
	}
}
