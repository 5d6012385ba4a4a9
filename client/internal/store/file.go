package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/util"
)

const storeFileName = "store.json"

type fileContent struct {
	Entries map[string][]byte
}

// FileStore keeps every entry in memory and rewrites one JSON document on each change
type FileStore struct {
	mu        sync.Mutex
	storeFile string
	entries   map[string][]byte
}

// NewFileStore restores the store from dataDir, starting empty when there is no store file yet
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &FileStore{
		storeFile: filepath.Join(dataDir, storeFileName),
		entries:   make(map[string][]byte),
	}

	if _, err := os.Stat(s.storeFile); errors.Is(err, os.ErrNotExist) {
		log.Debugf("store file %s doesn't exist, starting empty", s.storeFile)
		return s, nil
	}

	content := &fileContent{}
	if _, err := util.ReadJson(s.storeFile, content); err != nil {
		return nil, fmt.Errorf("read store file %s: %w", s.storeFile, err)
	}
	if content.Entries != nil {
		s.entries = content.Entries
	}
	return s, nil
}

func (s *FileStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return s.persist()
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persist()
}

func (s *FileStore) Close() error {
	return nil
}

// persist must be called with mu held
func (s *FileStore) persist() error {
	if err := util.WriteJson(context.Background(), s.storeFile, &fileContent{Entries: s.entries}); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	return nil
}
