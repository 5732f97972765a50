package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps records in a badger LSM directory.
type BadgerStore struct {
	db *badger.DB
	// updateMu keeps Updates from conflicting with each other; badger
	// already limits the directory to one process.
	updateMu sync.Mutex
}

func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, true, nil
}

func (s *BadgerStore) Set(key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

// badgerRetries bounds the attempts of an Update that keeps conflicting
// with concurrent transactions.
const badgerRetries = 5

func (s *BadgerStore) Update(key string, fn func(old []byte, ok bool) ([]byte, error)) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	var err error
	for attempt := 0; attempt < badgerRetries; attempt++ {
		var fnErr error
		err = s.db.Update(func(txn *badger.Txn) error {
			var old []byte
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if old, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			value, err := fn(old, item != nil)
			if err != nil {
				fnErr = err
				return err
			}
			if value == nil {
				return nil
			}
			return txn.Set([]byte(key), value)
		})
		if fnErr != nil {
			return fnErr
		}
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("badger update %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
