// Package store keeps the local state of the client: its identity, the peer roster and the per-peer
// message history, on top of a plain key-value store.
package store

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MemoryStoreEngine Engine = "memory"
	FileStoreEngine   Engine = "jsonfile"
	SqliteStoreEngine Engine = "sqlite"
)

var ErrNotFound = errors.New("not found")

// Engine names a KV implementation
type Engine string

// KV is the key-value collaborator of the client. It gives no transactional guarantees.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// ParseEngine accepts an engine name case-insensitively
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(s)); e {
	case MemoryStoreEngine, FileStoreEngine, SqliteStoreEngine:
		return e, nil
	default:
		return "", fmt.Errorf("unsupported store engine %q", s)
	}
}

// NewKV opens the KV of the given engine in dataDir
func NewKV(engine Engine, dataDir string) (KV, error) {
	switch engine {
	case MemoryStoreEngine:
		return NewMemoryStore(), nil
	case FileStoreEngine:
		return NewFileStore(dataDir)
	case SqliteStoreEngine:
		return NewSqliteStore(dataDir)
	default:
		return nil, fmt.Errorf("unsupported store engine %q", engine)
	}
}
