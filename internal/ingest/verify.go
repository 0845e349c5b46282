package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/hashing"
)

// VerifyMode selects how much of the copied data is re-read and re-hashed.
type VerifyMode string

const (
	VerifyNone VerifyMode = "none"

	// VerifySentinel re-hashes a fixed representative sample: the first
	// file, the last file, and the largest file of the run. Cheap, and still
	// catches systematic failures (bad cable, dying destination disk).
	VerifySentinel VerifyMode = "sentinel"

	VerifyFull VerifyMode = "full"
)

// ParseVerifyMode converts a user-supplied mode name.
func ParseVerifyMode(name string) (VerifyMode, error) {
	switch VerifyMode(name) {
	case VerifyNone, VerifySentinel, VerifyFull:
		return VerifyMode(name), nil
	case "":
		return VerifySentinel, nil
	default:
		return "", fmt.Errorf("unknown verify mode: %q (want none, sentinel, or full)", name)
	}
}

// verifyTarget abstracts primary vs backup verification over the same entry
// list: which path to re-read, which digest to compare against, and where to
// record the outcome.
type verifyTarget struct {
	kind   EventKind
	path   func(*FileEntry) string
	hash   func(*FileEntry) string
	record func(*FileEntry, string, bool)
}

func primaryTarget() verifyTarget {
	return verifyTarget{
		kind: EventVerifyProgress,
		path: func(e *FileEntry) string { return e.Dst },
		hash: func(e *FileEntry) string { return e.Hash },
		record: func(e *FileEntry, dest string, ok bool) {
			e.HashDest = dest
			e.Verified = &ok
		},
	}
}

func backupTarget() verifyTarget {
	return verifyTarget{
		kind: EventBackupVerifyProgress,
		path: func(e *FileEntry) string { return e.BackupDst },
		hash: func(e *FileEntry) string { return e.Hash },
		record: func(e *FileEntry, dest string, ok bool) {
			e.BackupHash = dest
			e.BackupVerified = &ok
		},
	}
}

// verifyEntries re-reads destination bytes for the selected entries and
// records match/mismatch. A mismatch is recorded, never raised: the write
// "succeeded" but content diverged, and the manifest carries that signal.
func verifyEntries(ctx context.Context, entries []*FileEntry, mode VerifyMode, algo hashing.Algorithm, target verifyTarget, onProgress ProgressFunc) error {
	if mode == VerifyNone {
		return nil
	}

	selected := selectForVerify(entries, mode, target)
	idx := 0
	for i, e := range entries {
		if !selected[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		idx++

		destDigest, err := hashFile(ctx, target.path(e), algo)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Unreadable destination is the strongest possible mismatch.
			target.record(e, "", false)
			log.Warn().Err(err).Str("path", target.path(e)).Msg("Verification re-read failed")
		} else {
			ok := destDigest == target.hash(e)
			target.record(e, destDigest, ok)
			if !ok {
				log.Warn().
					Str("path", target.path(e)).
					Str("hash_src", target.hash(e)).
					Str("hash_dest", destDigest).
					Msg("Verification mismatch")
			}
		}

		onProgress.emit(Event{
			Kind:       target.kind,
			Path:       target.path(e),
			FileIndex:  idx,
			TotalFiles: countSelected(selected),
		})
	}
	return nil
}

// selectForVerify marks which entries the mode covers. Only successfully
// copied entries with a destination are candidates.
func selectForVerify(entries []*FileEntry, mode VerifyMode, target verifyTarget) []bool {
	selected := make([]bool, len(entries))

	candidate := func(i int) bool {
		return entries[i].Status == StatusCopied && target.path(entries[i]) != ""
	}

	switch mode {
	case VerifyFull:
		for i := range entries {
			selected[i] = candidate(i)
		}
	case VerifySentinel:
		first, last, largest := -1, -1, -1
		for i := range entries {
			if !candidate(i) {
				continue
			}
			if first == -1 {
				first = i
			}
			last = i
			// Ties on size keep the first occurrence in scan order.
			if largest == -1 || entries[i].Size > entries[largest].Size {
				largest = i
			}
		}
		for _, i := range []int{first, last, largest} {
			if i >= 0 {
				selected[i] = true
			}
		}
	}
	return selected
}

func countSelected(selected []bool) int {
	n := 0
	for _, s := range selected {
		if s {
			n++
		}
	}
	return n
}
