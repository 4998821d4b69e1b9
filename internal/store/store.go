package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"syscall"

	"go.uber.org/zap"
)

const (
	// SessionKey holds the serialized identity session.
	SessionKey = "user"

	nearLimitPercentage = 80.0
)

var (
	// ErrStorageWriteFailed indicates the backend rejected a write.
	ErrStorageWriteFailed = errors.New("store: write failed")
	// ErrQuotaExceeded classifies a rejected write caused by the storage quota.
	// It matches ErrStorageWriteFailed under errors.Is.
	ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", ErrStorageWriteFailed)
	// ErrInvalidTarget indicates Read was given a non-pointer target.
	ErrInvalidTarget = errors.New("store: read target must be a non-nil pointer")

	errMissingBackend = errors.New("store: backend is required")
	noOpLogger        = zap.NewNop()
)

// Store is the durable key/value contract consumed by the rest of the engine.
type Store interface {
	// Read decodes the value stored under key into target and reports whether
	// it did. Missing and unreadable values both return false and leave target
	// untouched, so callers pre-populate target with their default.
	Read(key string, target any) bool
	// Write serializes value under key. Failures wrap ErrStorageWriteFailed.
	Write(key string, value any) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Backend persists raw serialized values.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
}

// Config describes the dependencies of a KeyValueStore.
type Config struct {
	Backend Backend
	// QuotaBytes bounds the summed size of keys and values. Zero disables it.
	QuotaBytes int64
	Logger     *zap.Logger
}

// KeyValueStore layers JSON serialization, quota enforcement and error
// classification over a Backend.
type KeyValueStore struct {
	backend    Backend
	quotaBytes int64
	logger     *zap.Logger
}

// New constructs a KeyValueStore.
func New(cfg Config) (*KeyValueStore, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	quota := cfg.QuotaBytes
	if quota < 0 {
		quota = 0
	}
	return &KeyValueStore{
		backend:    cfg.Backend,
		quotaBytes: quota,
		logger:     logger,
	}, nil
}

// Read implements Store.
func (s *KeyValueStore) Read(key string, target any) bool {
	targetValue := reflect.ValueOf(target)
	if target == nil || targetValue.Kind() != reflect.Pointer || targetValue.IsNil() {
		s.logger.Error("storage read failed", zap.String("key", key), zap.Error(ErrInvalidTarget))
		return false
	}

	raw, found, err := s.backend.Get(key)
	if err != nil {
		s.logger.Warn("storage read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !found {
		return false
	}

	fresh := reflect.New(targetValue.Elem().Type())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		s.logger.Warn("storage value unreadable, using default", zap.String("key", key), zap.Error(err))
		return false
	}
	targetValue.Elem().Set(fresh.Elem())
	return true
}

// Write implements Store.
func (s *KeyValueStore) Write(key string, value any) error {
	serialized, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("storage write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}

	if s.quotaBytes > 0 {
		usage, err := s.usageExcluding(key)
		if err != nil {
			s.logger.Error("storage write failed", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
		}
		if usage+int64(len(key)+len(serialized)) > s.quotaBytes {
			s.logger.Error("storage quota exceeded, consider clearing old data",
				zap.String("key", key),
				zap.Int64("quota_bytes", s.quotaBytes))
			return ErrQuotaExceeded
		}
	}

	if err := s.backend.Put(key, serialized); err != nil {
		classified := classifyWriteError(err)
		if errors.Is(classified, ErrQuotaExceeded) {
			s.logger.Error("storage quota exceeded, consider clearing old data", zap.String("key", key), zap.Error(err))
		} else {
			s.logger.Error("storage write failed", zap.String("key", key), zap.Error(err))
		}
		return classified
	}
	return nil
}

// Remove implements Store.
func (s *KeyValueStore) Remove(key string) error {
	if err := s.backend.Delete(key); err != nil {
		s.logger.Error("storage remove failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	return nil
}

// ClearAppData removes every key except the identity session.
func (s *KeyValueStore) ClearAppData() error {
	keys, err := s.backend.Keys()
	if err != nil {
		s.logger.Error("storage clear failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	for _, key := range keys {
		if key == SessionKey {
			continue
		}
		if err := s.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// Usage summarizes the storage footprint.
type Usage struct {
	TotalBytes      int64
	QuotaBytes      int64
	UsagePercentage float64
	NearLimit       bool
	Keys            []string
}

// Stats reports the storage footprint against the configured quota.
func (s *KeyValueStore) Stats() (Usage, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return Usage{}, err
	}
	sort.Strings(keys)
	total, err := s.usageExcluding("")
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{
		TotalBytes: total,
		QuotaBytes: s.quotaBytes,
		Keys:       keys,
	}
	if s.quotaBytes > 0 {
		usage.UsagePercentage = float64(total) / float64(s.quotaBytes) * 100
		usage.NearLimit = usage.UsagePercentage > nearLimitPercentage
	}
	return usage, nil
}

func (s *KeyValueStore) usageExcluding(excluded string) (int64, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		if key == excluded {
			continue
		}
		raw, found, err := s.backend.Get(key)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		total += int64(len(key) + len(raw))
	}
	return total, nil
}

func classifyWriteError(err error) error {
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	if errors.Is(err, ErrStorageWriteFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
}

// ReadOr returns the value stored under key, or fallback when it is missing
// or unreadable.
func ReadOr[T any](s Store, key string, fallback T) T {
	value := fallback
	if !s.Read(key, &value) {
		return fallback
	}
	return value
}
