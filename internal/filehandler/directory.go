package filehandler

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FileDescriptor describes one source file found by the scanner. Paths are
// relative to the scan root and always use forward slashes.
type FileDescriptor struct {
	RelPath string
	Size    int64
	ModTime time.Time
}

// Ext returns the lower-cased extension of the descriptor, including the dot.
func (d FileDescriptor) Ext() string {
	return strings.ToLower(filepath.Ext(d.RelPath))
}

// MediaType classifies the descriptor by its extension.
func (d FileDescriptor) MediaType() MediaType {
	return ClassifyExtension(d.Ext())
}

// ScanOptions configures source scanning behavior.
type ScanOptions struct {
	// MaxDepth limits recursion depth. 0 = unlimited, 1 = top-level only.
	MaxDepth int

	// Limit caps the number of files returned. 0 = unlimited.
	Limit int

	// IncludeHidden includes dotfiles and dot-directories in the scan.
	// Card filesystems hide index databases this way; default is to skip.
	IncludeHidden bool
}

// ScanSource enumerates every regular file under root into FileDescriptors,
// sorted by relative path for a deterministic scan order. Symlinks to
// directories are skipped to prevent loops. A file that cannot be stat'd is
// skipped with a warning; only a failure to read the root itself is an error.
func ScanSource(root string, opts ScanOptions) ([]FileDescriptor, error) {
	log.Info().
		Str("path", root).
		Int("max_depth", opts.MaxDepth).
		Int("limit", opts.Limit).
		Msg("Scanning source for files")

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source not found: %s", root)
		}
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source is not a directory: %s", root)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var files []FileDescriptor
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Warn().Err(walkErr).Str("path", path).Msg("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			if opts.MaxDepth > 0 && depthOf(rel) >= opts.MaxDepth {
				return fs.SkipDir
			}
			return nil
		}

		// Skip symlinks entirely; a dangling or cyclic link must not poison
		// the copy phase.
		if d.Type()&fs.ModeSymlink != 0 {
			log.Debug().Str("path", path).Msg("Skipping symlink")
			return nil
		}

		if !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			log.Warn().Err(statErr).Str("path", path).Msg("Skipping file that cannot be stat'd")
			return nil
		}

		files = append(files, FileDescriptor{
			RelPath: filepath.ToSlash(rel),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })

	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}

	log.Info().
		Str("path", root).
		Int("count", len(files)).
		Msg("Source scan complete")

	return files, nil
}

// depthOf counts path segments in a slash-relative path.
func depthOf(rel string) int {
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}
