package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const compressedExt = ".zst"

// TrimArchives ages the raw transcript archives: files past the
// retention window are zstd-compressed in place, compressed files past
// twice the window are deleted. Compression before deletion keeps the
// raw-preservation guarantee for the full retention period.
func (m *Manager) TrimArchives(now time.Time) error {
	archivesDir := filepath.Join(m.root, ArchivesDirName)
	days, err := os.ReadDir(archivesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		dayDir := filepath.Join(archivesDir, day.Name())
		files, err := os.ReadDir(dayDir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dayDir).Msg("Unreadable archive day")
			continue
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			path := filepath.Join(dayDir, file.Name())
			info, err := file.Info()
			if err != nil {
				continue
			}
			age := now.Sub(info.ModTime())

			switch {
			case strings.HasSuffix(file.Name(), compressedExt):
				if age > 2*m.cfg.ArchiveRetention {
					if err := os.Remove(path); err != nil {
						log.Warn().Err(err).Str("path", path).Msg("Could not delete expired archive")
					} else {
						log.Info().Str("path", path).Msg("Deleted expired compressed archive")
					}
				}
			case age > m.cfg.ArchiveRetention:
				if err := compressArchive(path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Could not compress aged archive")
				} else {
					log.Info().Str("path", path).Msg("Compressed aged archive")
				}
			}
		}

		// Drop day dirs that ended up empty
		if remaining, err := os.ReadDir(dayDir); err == nil && len(remaining) == 0 {
			_ = os.Remove(dayDir)
		}
	}
	return nil
}

// compressArchive replaces path with path.zst. The original is removed
// only after the compressed copy is fully written and closed.
func compressArchive(path string) error {
	source, err := os.Open(path) // #nosec G304 -- path is inside the archives dir
	if err != nil {
		return err
	}
	defer source.Close()

	destPath := path + compressedExt
	dest, err := os.Create(destPath) // #nosec G304 -- derived from the validated source path
	if err != nil {
		return err
	}

	encoder, err := zstd.NewWriter(dest)
	if err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		return err
	}

	if _, err := io.Copy(encoder, source); err != nil {
		_ = encoder.Close()
		_ = dest.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		return err
	}
	if err := dest.Close(); err != nil {
		_ = os.Remove(destPath)
		return err
	}

	// Preserve the original mtime so the expiry clock keeps running
	if info, err := os.Stat(path); err == nil {
		_ = os.Chtimes(destPath, info.ModTime(), info.ModTime())
	}
	return os.Remove(path)
}
