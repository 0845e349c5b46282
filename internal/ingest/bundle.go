package ingest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE
// 6.3.7). Registered in init(); the run artifacts are small, so the default
// encoder level is plenty.
const zipMethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
}

// WriteBundle packs the run artifacts (manifest JSON, HTML report, triage
// exports) into a single zip for handoff to the client or the archive.
func WriteBundle(path, manifestPath, reportPath string, extra []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	files := append([]string{manifestPath, reportPath}, extra...)
	for _, p := range files {
		if err := addToBundle(zw, p); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize bundle: %w", err)
	}

	log.Info().Str("path", path).Int("files", len(files)).Msg("Report bundle written")
	return nil
}

func addToBundle(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open bundle member %s: %w", path, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(path),
		Method: zipMethodZstd,
	})
	if err != nil {
		return fmt.Errorf("failed to add bundle member %s: %w", path, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to write bundle member %s: %w", path, err)
	}
	return nil
}
