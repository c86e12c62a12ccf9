package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// MetaSourceFile and MetaFileHash tag chunks ingested from the watched directory.
const (
	MetaSourceFile = "source_file"
	MetaFileHash   = "file_hash"
)

// DirectoryWatcher feeds supported files from a directory into memory.
// Stored chunks are never rewritten, so a file is only ingested again when its content hash changes.
type DirectoryWatcher struct {
	memory  MemoryService
	extract func(path string) (string, error)
	logger  *zap.Logger

	mu     sync.Mutex
	hashes map[string]string
}

func NewDirectoryWatcher(memory MemoryService, logger *zap.Logger) *DirectoryWatcher {
	return &DirectoryWatcher{
		memory:  memory,
		extract: ExtractTextFromFile,
		logger:  logger.Named("watcher"),
		hashes:  make(map[string]string),
	}
}

// ScanDirectory ingests every supported file under dirPath that was not seen with the same content.
// It returns the number of files ingested.
func (w *DirectoryWatcher) ScanDirectory(ctx context.Context, dirPath string) int {
	w.logger.Info("starting directory scan", zap.String("dir", dirPath))
	ingested := 0
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || !IsSupportedFile(path) {
			return nil
		}
		if ok, err := w.IngestFile(ctx, path); err != nil {
			w.logger.Error("failed to process file", zap.String("path", path), zap.Error(err))
		} else if ok {
			ingested++
		}
		return nil
	})
	if err != nil {
		w.logger.Error("error walking directory", zap.String("dir", dirPath), zap.Error(err))
	}
	w.logger.Info("directory scan finished", zap.Int("ingested", ingested))
	return ingested
}

// IngestFile ingests one file. It reports false without error when the content is unchanged or empty.
func (w *DirectoryWatcher) IngestFile(ctx context.Context, path string) (bool, error) {
	hash, err := calculateFileHash(path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	unchanged := w.hashes[path] == hash
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	text, err := w.extract(path)
	if err != nil {
		return false, err
	}

	n, err := w.memory.Ingest(ctx, text, map[string]interface{}{
		MetaSourceFile: path,
		MetaFileHash:   hash,
	})
	if errors.Is(err, ErrEmptyText) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.hashes[path] = hash
	w.mu.Unlock()
	w.logger.Info("indexed file", zap.String("path", path), zap.Int("chunks", n))
	return true, nil
}

// Watch blocks until ctx is cancelled, ingesting files as they are created or written.
func (w *DirectoryWatcher) Watch(ctx context.Context, dirPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dirPath); err != nil {
		return err
	}
	w.logger.Info("watching directory", zap.String("dir", dirPath))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsSupportedFile(event.Name) {
				continue
			}
			// Editors often save through create+rename, which shows up as several events; the hash check absorbs repeats.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if _, err := w.IngestFile(ctx, event.Name); err != nil {
					w.logger.Error("failed to process file", zap.String("path", event.Name), zap.Error(err))
				}
			} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				delete(w.hashes, event.Name)
				w.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-ctx.Done():
			w.logger.Info("context cancelled, shutting down watcher")
			return nil
		}
	}
}

func calculateFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
