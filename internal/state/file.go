package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileStore keeps one JSON file per key under root. Writes are atomic
// (temp file + rename), so a crash never leaves a half-written record.
// Writers also hold an advisory lock file per key, so a daemon and a
// one-shot CLI process sharing the directory never lose each other's
// updates.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed Store rooted at the given directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, key+".json")
}

// locked runs fn holding both the in-process mutex and the key's lock file.
func (s *FileStore) locked(key string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	lock := flock.New(filepath.Join(s.root, "."+key+".lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer lock.Unlock()
	return fn()
}

func (s *FileStore) read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

func (s *FileStore) write(key string, value []byte) error {
	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp %s: %w", key, err)
	}
	return nil
}

// Get reads without the lock file; rename keeps every read whole.
func (s *FileStore) Get(key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	return s.read(key)
}

func (s *FileStore) Set(key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.locked(key, func() error {
		return s.write(key, value)
	})
}

func (s *FileStore) Update(key string, fn func(old []byte, ok bool) ([]byte, error)) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.locked(key, func() error {
		old, ok, err := s.read(key)
		if err != nil {
			return err
		}
		value, err := fn(old, ok)
		if err != nil || value == nil {
			return err
		}
		return s.write(key, value)
	})
}

func (s *FileStore) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.locked(key, func() error {
		if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

func (s *FileStore) Close() error { return nil }
