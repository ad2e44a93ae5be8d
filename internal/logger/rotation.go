package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const rotatedStamp = "20060102-150405"

// RotatingWriter writes to a single log file, renaming it aside with a
// timestamp suffix once it reaches the size limit. Rotated files older than
// the retention window are removed; rotation keeps the live path stable so
// the process never has to reopen its sink.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	limit    int64
	keepDays int
	compress bool

	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) the log file at path. Non-positive
// size and age fall back to the logger defaults, matching what an empty
// logging section in parley.json resolves to.
func NewRotatingWriter(path string, maxSizeMB, maxAgeDays int, compress bool) (*RotatingWriter, error) {
	defaults := DefaultConfig()
	if maxSizeMB <= 0 {
		maxSizeMB = defaults.MaxSize
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaults.MaxAge
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		limit:    int64(maxSizeMB) * 1024 * 1024,
		keepDays: maxAgeDays,
		compress: compress,
		file:     file,
		size:     info.Size(),
	}
	go w.sweepOld()
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with w.mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	aside := w.path + "." + time.Now().Format(rotatedStamp)
	if err := os.Rename(w.path, aside); err != nil {
		return err
	}
	if w.compress {
		go compressAside(aside)
	}
	go w.sweepOld()

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0
	return nil
}

// compressAside gzips a rotated file and removes the original.
func compressAside(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// sweepOld removes rotated files (and their gzips) past the retention
// window. The live file is never touched.
func (w *RotatingWriter) sweepOld() {
	if w.keepDays <= 0 {
		return
	}
	rotated, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.keepDays)
	for _, path := range rotated {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		os.Remove(path)
		if !strings.HasSuffix(path, ".gz") {
			os.Remove(path + ".gz")
		}
	}
}
