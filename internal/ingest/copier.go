package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/hashing"
)

// copyBufSize is the stream chunk size. Chunk boundaries are also where the
// copy loop observes cancellation of the surrounding context, so a single
// file is always either fully copied or entirely absent.
const copyBufSize = 1 << 20

// copier carries the run-scoped copy state: the selected digest strategy and
// the dedup index mapping digest to the first destination written with it.
type copier struct {
	algo      hashing.Algorithm
	dedupe    bool
	overwrite bool
	index     map[string]string
}

func newCopier(algo hashing.Algorithm, dedupe, overwrite bool) *copier {
	return &copier{
		algo:      algo,
		dedupe:    dedupe,
		overwrite: overwrite,
		index:     make(map[string]string),
	}
}

// process copies one source file to its destination, filling in the entry's
// digest, status, and duplicate linkage. I/O failures are captured on the
// entry as StatusError; process only returns an error when the run context
// is cancelled.
func (c *copier) process(ctx context.Context, srcPath, dstPath string, entry *FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Existing-destination policy: skip without reading or hashing when the
	// destination is already occupied and overwrite is off.
	if !c.overwrite {
		if _, err := os.Stat(dstPath); err == nil {
			entry.Status = StatusSkippedExists
			entry.Dst = dstPath
			log.Debug().Str("dst", dstPath).Msg("Destination exists, skipping")
			return nil
		}
	}

	// Content identity cannot be known before reading, so dedup always pays
	// the read: hash the source first, then skip only the write on a hit.
	if c.dedupe {
		digest, err := hashFile(ctx, srcPath, c.algo)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			entry.Status = StatusError
			entry.Error = fmt.Sprintf("failed to hash source: %v", err)
			return nil
		}
		if prior, ok := c.index[digest]; ok {
			entry.Status = StatusSkippedDuplicate
			entry.Hash = digest
			entry.DuplicateOf = prior
			log.Debug().
				Str("src", srcPath).
				Str("duplicate_of", prior).
				Msg("Duplicate content, skipping write")
			return nil
		}
	}

	digest, err := copyWithHash(ctx, srcPath, dstPath, c.algo)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry.Status = StatusError
		entry.Error = err.Error()
		log.Warn().Err(err).Str("src", srcPath).Msg("Copy failed, continuing with next file")
		return nil
	}

	entry.Status = StatusCopied
	entry.Dst = dstPath
	entry.Hash = digest
	if c.dedupe {
		if _, ok := c.index[digest]; !ok {
			c.index[digest] = dstPath
		}
	}
	return nil
}

// copyWithHash streams srcPath into dstPath while computing the digest from
// the same read. The destination is written to a temp file in the target
// directory and renamed into place only after a successful copy, so a failed
// or cancelled copy never leaves a partial destination file.
func copyWithHash(ctx context.Context, srcPath, dstPath string, algo hashing.Algorithm) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat source: %w", err)
	}

	dir := filepath.Dir(dstPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ingest-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	hasher, err := hashing.New(algo)
	if err != nil {
		return "", err
	}

	buf := make([]byte, copyBufSize)
	w := io.MultiWriter(tmp, hasher)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return "", fmt.Errorf("failed to write destination: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read source: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to flush destination: %w", err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		log.Debug().Err(err).Str("path", tmpPath).Msg("Failed to preserve modification time")
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		return "", fmt.Errorf("failed to finalize destination: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// hashFile reads a file and returns its hex digest under the run's algorithm.
func hashFile(ctx context.Context, path string, algo hashing.Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher, err := hashing.New(algo)
	if err != nil {
		return "", err
	}

	buf := make([]byte, copyBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
