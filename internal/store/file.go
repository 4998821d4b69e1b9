package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileBackend keeps every key in a single JSON file that is rewritten
// atomically on each mutation.
type FileBackend struct {
	mu     sync.RWMutex
	path   string
	values map[string]json.RawMessage
	logger *zap.Logger
}

// OpenFileBackend loads the file at path, creating its directory when needed.
// An unreadable file is moved aside and the backend starts empty.
func OpenFileBackend(path string, logger *zap.Logger) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("store: file path is required")
	}
	if logger == nil {
		logger = noOpLogger
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	backend := &FileBackend{
		path:   path,
		values: make(map[string]json.RawMessage),
		logger: logger,
	}
	if err := backend.load(); err != nil {
		return nil, err
	}
	return backend, nil
}

func (b *FileBackend) load() error {
	content, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}

	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(content, &values); err != nil {
		quarantined := fmt.Sprintf("%s.corrupt-%d", b.path, time.Now().UTC().Unix())
		b.logger.Warn("storage file unreadable, starting empty",
			zap.String("path", b.path),
			zap.String("quarantined", quarantined),
			zap.Error(err))
		if renameErr := os.Rename(b.path, quarantined); renameErr != nil {
			return renameErr
		}
		return nil
	}
	b.values = values
	return nil
}

// Get implements Backend.
func (b *FileBackend) Get(key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Put implements Backend. The in-memory view only changes when the file
// write succeeds.
func (b *FileBackend) Put(key string, value []byte) error {
	if !json.Valid(value) {
		return errors.New("store: value is not valid json")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]json.RawMessage, len(b.values)+1)
	for existingKey, existingValue := range b.values {
		next[existingKey] = existingValue
	}
	next[key] = append(json.RawMessage(nil), value...)
	if err := atomicWriteFileJSON(b.path, next); err != nil {
		return err
	}
	b.values = next
	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[key]; !ok {
		return nil
	}
	next := make(map[string]json.RawMessage, len(b.values))
	for existingKey, existingValue := range b.values {
		if existingKey != key {
			next[existingKey] = existingValue
		}
	}
	if err := atomicWriteFileJSON(b.path, next); err != nil {
		return err
	}
	b.values = next
	return nil
}

// Keys implements Backend.
func (b *FileBackend) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.values))
	for key := range b.values {
		keys = append(keys, key)
	}
	return keys, nil
}

func atomicWriteFileJSON(filePath string, data any) error {
	tempFile := filePath + ".tmp"
	f, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, filePath)
}
