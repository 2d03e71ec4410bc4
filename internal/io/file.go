// Package ioutils provides file system utilities for the trackcache engine.
//
// This package contains functions for:
//   - Binary-safe appending of downloaded chunks
//   - Atomic file writes (temp file + rename)
//   - Probing candidate cache directories for writability
//   - Filename sanitization
//   - Directory creation
//
// Chunk data is only ever handled as raw bytes. Audio payloads must never
// pass through a text representation: that is how binary boundaries get
// corrupted.
package ioutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// AppendFile appends raw bytes to the file at path, creating it if needed.
//
// The append is binary-safe: data is written through the os file handle
// without any intermediate text representation. This is the only sanctioned
// way to merge a downloaded chunk onto an existing partial cache file.
//
// Example:
//
//	// 2MB partial file + 512KB chunk -> 2.5MB file, first 2MB untouched
//	err := ioutils.AppendFile("/cache/youtube_abc.mp3", chunk)
func AppendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// AppendFromFile appends the full contents of src onto dst, streaming bytes
// directly between the two handles.
//
// Used by the resume path: the resumed tail is downloaded to a temporary
// file first, then merged onto the existing cache file.
func AppendFromFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// WriteFileAtomic writes data to path via a temporary sibling file and a
// rename, so readers never observe a half-written file.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFirstBytes reads up to n bytes from the start of the file.
//
// Cache validation uses this to confirm a candidate file is actually
// readable, not just present in a directory listing.
func ReadFirstBytes(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:read], nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}

// FileSize returns the size of the file at path, or 0 if it does not exist
// or is a directory.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// ProbeWritableDir walks candidate directories in order and returns the
// first one that can be created and written to.
//
// Each candidate gets a small write test (create, write, delete) so that a
// directory that exists but sits on a read-only mount is skipped. The
// resolved path is probed once at startup and cached for the process
// lifetime.
//
// Example:
//
//	dir, err := ioutils.ProbeWritableDir([]string{
//	    filepath.Join(home, ".cache", "trackcache"),
//	    filepath.Join(os.TempDir(), "trackcache"),
//	})
func ProbeWritableDir(candidates []string) (string, error) {
	var lastErr error
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			lastErr = err
			continue
		}
		probe := filepath.Join(dir, ".write-test")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			lastErr = err
			continue
		}
		os.Remove(probe)
		return dir, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no cache directory candidates configured")
	}
	return "", fmt.Errorf("no writable cache directory: %w", lastErr)
}

// EnsureDir creates a directory and all parent directories if they don't
// exist. Directories are created with mode 0755.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SanitizeFileName removes or replaces characters that are invalid in
// file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars 0x00-0x1f) → underscore
//   - Trailing dots → removed (Windows limitation)
//   - Multiple whitespace → single space
//   - Trailing whitespace → removed
func SanitizeFileName(name string) string {
	invalidChars := regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	name = invalidChars.ReplaceAllString(name, "_")

	name = regexp.MustCompile(`\.+$`).ReplaceAllString(name, "")
	name = regexp.MustCompile(`\s+`).ReplaceAllString(name, " ")

	return strings.TrimRight(name, " ")
}
