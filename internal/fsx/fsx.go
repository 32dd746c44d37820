// Package fsx provides durable filesystem primitives: atomic file
// replacement and fsynced appends. Every mutation of shared state in
// shiftbook goes through one of these two helpers so that a crashed
// agent process can never leave a half-written registry, index, or log.
package fsx

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with content via a temp file in the same
// directory, fsyncing the file and its parent directory. Readers see
// either the old content or the new, never a mix.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tempFile, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(content); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanup = false

	syncDir(parent)
	return nil
}

// AppendLine appends one record plus a trailing newline and fsyncs before
// returning. Concurrent appenders are safe at the OS level (O_APPEND);
// each shiftbook record is self-identified, so interleaving is harmless.
func AppendLine(path string, line []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("create append directory: %w", err)
		}
	}

	payload := make([]byte, 0, len(line)+1)
	payload = append(payload, line...)
	payload = append(payload, '\n')

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode) // #nosec G304 -- callers validate paths against their root first
	if err != nil {
		return fmt.Errorf("open append file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := file.Write(payload); err != nil {
		return fmt.Errorf("append line: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync append file: %w", err)
	}

	syncDir(parent)
	return nil
}

// CountLines returns the number of newline-terminated lines in content.
// A trailing fragment without a newline still counts as a line.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	count := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			count++
		}
	}
	if content[len(content)-1] != '\n' {
		count++
	}
	return count
}

// ReadLines reads path and returns its lines without terminators, using
// an enlarged scanner buffer for long records.
func ReadLines(path string) ([]string, error) {
	file, err := os.Open(path) // #nosec G304 -- callers validate paths against their root first
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}

func syncDir(parent string) {
	if parent == "" || parent == "." {
		return
	}
	// #nosec G304 -- parent directory derived from an already-validated destination path.
	if handle, err := os.Open(parent); err == nil {
		_ = handle.Sync()
		_ = handle.Close()
	}
}
