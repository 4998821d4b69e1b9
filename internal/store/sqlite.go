package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is a single key/value row.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// SQLiteBackend stores values in a SQLite key/value table.
type SQLiteBackend struct {
	db    *gorm.DB
	clock func() time.Time
}

// OpenSQLite establishes a SQLite connection and migrates the key/value table.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	backend, err := NewSQLiteBackend(db)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}
	return backend, nil
}

// NewSQLiteBackend wraps an open gorm handle.
func NewSQLiteBackend(db *gorm.DB) (*SQLiteBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db, clock: time.Now}, nil
}

// Close releases the underlying connection.
func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get implements Backend.
func (b *SQLiteBackend) Get(key string) ([]byte, bool, error) {
	var entry Entry
	err := b.db.Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(entry.Value), true, nil
}

// Put implements Backend.
func (b *SQLiteBackend) Put(key string, value []byte) error {
	entry := Entry{
		Key:              key,
		Value:            string(value),
		UpdatedAtSeconds: b.clock().UTC().Unix(),
	}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_json", "updated_at_s"}),
	}).Create(&entry).Error
	if err != nil && isDiskFull(err) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(key string) error {
	return b.db.Where("entry_key = ?", key).Delete(&Entry{}).Error
}

// Keys implements Backend.
func (b *SQLiteBackend) Keys() ([]string, error) {
	var keys []string
	if err := b.db.Model(&Entry{}).Order("entry_key ASC").Pluck("entry_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func isDiskFull(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database or disk is full") || strings.Contains(message, "sqlite_full")
}
