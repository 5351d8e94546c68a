package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kyleseneker/pinguard/internal/logging"
)

// FileStore persists one area as a JSON object on disk. The file is re-read
// before every operation so that several processes sharing the directory only
// overwrite each other on the same key.
type FileStore struct {
	mu       sync.RWMutex
	filePath string
	values   map[string]string
	logger   logging.Logger
}

// NewFileStore creates or loads the store file for area inside dir.
// A corrupt file is logged and replaced on the next write rather than failing
// startup.
func NewFileStore(dir string, area Area) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	filePath := filepath.Join(dir, fmt.Sprintf("pinguard-%s.json", area))

	s := &FileStore{
		filePath: filePath,
		values:   make(map[string]string),
		logger:   logging.Get().Named("file_store"),
	}

	s.mu.Lock()
	s.refresh()
	s.mu.Unlock()

	s.logger.Debug("FileStore initialized.", "path", filePath, "loaded_keys", len(s.values))
	return s, nil
}

// load reads the store file into memory. Callers hold the write lock.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err // Handles os.IsNotExist
	}
	loaded := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to unmarshal store file %s: %w", s.filePath, err)
		}
	}
	if loaded == nil {
		loaded = make(map[string]string)
	}
	s.values = loaded
	return nil
}

// refresh replaces the in-memory values with the file contents. A missing
// file means an empty store; an unreadable one is discarded with a warning.
func (s *FileStore) refresh() {
	err := s.load()
	switch {
	case err == nil:
	case os.IsNotExist(err):
		s.values = make(map[string]string)
	default:
		s.logger.Warn("Discarding unreadable store file", "path", s.filePath, "error", err)
		s.values = make(map[string]string)
	}
}

// save writes the current values back to the file. Callers hold the write lock.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	// Write atomically via temp file rename
	tempFile, err := os.CreateTemp(filepath.Dir(s.filePath), filepath.Base(s.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tempFilePath := tempFile.Name()
	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFilePath)
		return fmt.Errorf("failed to write temp store file %s: %w", tempFilePath, err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempFilePath)
		return fmt.Errorf("failed to close temp store file %s: %w", tempFilePath, err)
	}

	if err := os.Rename(tempFilePath, s.filePath); err != nil {
		_ = os.Remove(tempFilePath)
		return fmt.Errorf("failed to rename temp store file to %s: %w", s.filePath, err)
	}

	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()

	prev, existed := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		if existed {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()

	prev, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.save(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close is a no-op for the file store; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}
