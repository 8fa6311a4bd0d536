package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/spf13/afero"

	"github.com/instrulink/sessionkit/internal/shared/paths"
)

// ErrNotFound reports that a key has no entry in a store.
var ErrNotFound = errors.New("persistence: not found")

// RecordStore is the primary tier: a keyed record store holding one full
// state object per id.
type RecordStore interface {
	Put(id string, record []byte) error
	Get(id string) ([]byte, error)
	Delete(id string) error
}

// KVStore is the backup tier: a flat key-value store holding JSON-serialized
// (possibly reduced) copies.
type KVStore interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// FileRecordStore keeps one JSON file per record id under a namespace
// directory. Backed by afero so tests run against an in-memory filesystem.
type FileRecordStore struct {
	fs  afero.Fs
	dir string
}

// NewFileRecordStore creates a record store rooted at dir/namespace.
func NewFileRecordStore(fs afero.Fs, dir, namespace string) (*FileRecordStore, error) {
	if err := paths.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, namespace)
	if err := fs.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create record store dir: %w", err)
	}
	return &FileRecordStore{fs: fs, dir: path}, nil
}

func (s *FileRecordStore) Put(id string, record []byte) error {
	return afero.WriteFile(s.fs, s.recordPath(id), record, 0o644)
}

func (s *FileRecordStore) Get(id string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.recordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FileRecordStore) Delete(id string) error {
	err := s.fs.Remove(s.recordPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileRecordStore) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// FileKVStore keeps all keys of a namespace in a single JSON file, mirroring
// a flat key-value storage engine. Read-modify-write under a mutex; entries
// are whole-value overwrites.
type FileKVStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileKVStore creates a key-value store at dir/namespace/backup.json.
func NewFileKVStore(fs afero.Fs, dir, namespace string) (*FileKVStore, error) {
	if err := paths.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	base := filepath.Join(dir, namespace)
	if err := fs.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create kv store dir: %w", err)
	}
	return &FileKVStore{fs: fs, path: filepath.Join(base, "backup.json")}, nil
}

func (s *FileKVStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return s.flush(entries)
}

func (s *FileKVStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	value, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *FileKVStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.flush(entries)
}

func (s *FileKVStore) load() (map[string]json.RawMessage, error) {
	entries := make(map[string]json.RawMessage)
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entries, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt kv store: %w", err)
	}
	return entries, nil
}

func (s *FileKVStore) flush(entries map[string]json.RawMessage) error {
	data, err := sonic.Marshal(entries)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path, data, 0o644)
}

// discardRecordStore and discardKVStore stand in for absent tiers: writes
// vanish, reads always miss.
type discardRecordStore struct{}

func (discardRecordStore) Put(string, []byte) error   { return nil }
func (discardRecordStore) Get(string) ([]byte, error) { return nil, ErrNotFound }
func (discardRecordStore) Delete(string) error        { return nil }

type discardKVStore struct{}

func (discardKVStore) Set(string, []byte) error   { return nil }
func (discardKVStore) Get(string) ([]byte, error) { return nil, ErrNotFound }
func (discardKVStore) Delete(string) error        { return nil }
