package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Keys of the records persisted by the application.
const (
	KeyCatalog       = "catalog"
	KeyHistory       = "history"
	KeyAutoSync      = "autosync"
	KeyNotifications = "notifications"
	KeyEvents        = "events"
)

// Store is an opaque key-value persistence, one record per key.
type Store interface {
	// Get returns the record for key. ok is false when no record exists.
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	// Update runs fn on the current record and stores what it returns as
	// one atomic step, across processes for the backends that can be
	// shared. A nil value from fn skips the write; an error from fn is
	// returned as is.
	Update(key string, fn func(old []byte, ok bool) ([]byte, error)) error
	Delete(key string) error
	Close() error
}

var (
	ErrInvalidKey = errors.New("invalid key")
	// ErrUnchanged may be returned by an UpdateJSON callback to skip the
	// write. UpdateJSON then reports success.
	ErrUnchanged = errors.New("record unchanged")
)

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// LoadJSON decodes the record under key into v. It reports false and
// leaves v untouched when the record does not exist.
func LoadJSON(s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(key, data)
}

// UpdateJSON decodes the record under key, lets fn modify it and stores
// the result atomically. It returns the value as stored (or as read, when
// fn returned ErrUnchanged). A missing record starts as the zero T.
func UpdateJSON[T any](s Store, key string, fn func(v *T) error) (T, error) {
	var out T
	err := s.Update(key, func(old []byte, ok bool) ([]byte, error) {
		var v T
		if ok {
			if err := json.Unmarshal(old, &v); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", key, err)
			}
		}
		if err := fn(&v); err != nil {
			if errors.Is(err, ErrUnchanged) {
				out = v
				return nil, nil
			}
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		out = v
		return data, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Open returns the store for the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(filepath.Join(dir, "state")), nil
	case "bolt":
		return OpenBolt(filepath.Join(dir, "state.db"))
	case "badger":
		return OpenBadger(filepath.Join(dir, "badger"))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}
