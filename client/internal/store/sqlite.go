package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type kvEntry struct {
	Key       string `gorm:"column:entry_key;primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

type SqliteStore struct {
	db *gorm.DB
}

// NewSqliteStore opens or creates the SQLite store in dataDir
func NewSqliteStore(dataDir string) (*SqliteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	storeStr := "store.db?cache=shared"
	if runtime.GOOS == "windows" {
		storeStr = "store.db"
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dataDir, storeStr)), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Get(key string) ([]byte, error) {
	var entry kvEntry
	err := s.db.Where("entry_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *SqliteStore) Set(key string, value []byte) error {
	entry := &kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(entry).Error; err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SqliteStore) Delete(key string) error {
	if err := s.db.Where("entry_key = ?", key).Delete(&kvEntry{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying DB connection
func (s *SqliteStore) Close() error {
	sql, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get db: %w", err)
	}
	return sql.Close()
}
