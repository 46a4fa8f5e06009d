package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeLayout = "20060102-150405"

// rotatingWriter 按大小滚动审计日志，备份文件带时间戳后缀，
// 超龄或超量的备份在每次滚动时清理。
type rotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return 0, err
	}
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.ensureFile(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *rotatingWriter) ensureFile() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	backup := fmt.Sprintf("%s.%s", w.path, time.Now().Format(backupTimeLayout))
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, backup); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	w.cleanup()
	return nil
}

// cleanup 删除超量与超龄的备份。
func (w *rotatingWriter) cleanup() {
	pattern := w.path + ".*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	type backupFile struct {
		path    string
		modTime time.Time
	}
	backups := make([]backupFile, 0, len(matches))
	cutoff := time.Now().Add(-w.maxAge)
	for _, match := range matches {
		if !strings.HasPrefix(match, w.path+".") {
			continue
		}
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if w.maxAge > 0 && info.ModTime().Before(cutoff) {
			_ = os.Remove(match)
			continue
		}
		backups = append(backups, backupFile{path: match, modTime: info.ModTime()})
	}
	if w.maxBackups <= 0 || len(backups) <= w.maxBackups {
		return
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.After(backups[j].modTime) })
	for _, stale := range backups[w.maxBackups:] {
		_ = os.Remove(stale.path)
	}
}
