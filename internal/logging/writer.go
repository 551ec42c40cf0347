package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// rotatedStamp names rotated files; millisecond resolution keeps two
// rotations within one second from overwriting each other.
const rotatedStamp = "20060102-150405.000"

// RotatingWriter is an io.WriteCloser that rotates the relay's log file by
// size. Rotated files are named <base>-<timestamp><ext>.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	now        func() time.Time
}

// NewRotatingWriter opens path (creating parent directories as needed).
// maxSizeMB <= 0 disables rotation; maxBackups <= 0 keeps every backup;
// maxAgeDays <= 0 keeps backups regardless of age.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) << 20,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		now:        time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer. A single entry is never split across files.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.maxBytes > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the underlying file. Further writes fail with os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// rotate must be called with rw.mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}

	base, ext := rw.split()
	rotated := fmt.Sprintf("%s-%s%s", base, rw.now().Format(rotatedStamp), ext)
	if err := os.Rename(rw.path, rotated); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}
	if err := rw.open(); err != nil {
		return err
	}

	rw.prune()
	return nil
}

func (rw *RotatingWriter) split() (base, ext string) {
	ext = filepath.Ext(rw.path)
	base = strings.TrimSuffix(rw.path, ext)
	if ext == "" {
		ext = ".log"
	}
	return base, ext
}

// backups lists rotated files, oldest first.
func (rw *RotatingWriter) backups() []string {
	base, ext := rw.split()
	dir := filepath.Dir(rw.path)
	prefix := filepath.Base(base) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) && name != filepath.Base(rw.path) {
			names = append(names, filepath.Join(dir, name))
		}
	}
	// The timestamp format sorts lexically.
	sort.Strings(names)
	return names
}

// prune enforces maxBackups and maxAge on rotated files.
func (rw *RotatingWriter) prune() {
	names := rw.backups()

	if rw.maxBackups > 0 {
		for len(names) > rw.maxBackups {
			os.Remove(names[0]) //nolint:errcheck
			names = names[1:]
		}
	}

	if rw.maxAge > 0 {
		cutoff := rw.now().Add(-rw.maxAge)
		for _, name := range names {
			info, err := os.Stat(name)
			if err == nil && info.ModTime().Before(cutoff) {
				os.Remove(name) //nolint:errcheck
			}
		}
	}
}
