package state

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	bolt, err := OpenBolt(filepath.Join(dir, "bolt", "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	badger, err := OpenBadger(filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   NewFileStore(filepath.Join(dir, "file")),
		"bolt":   bolt,
		"badger": badger,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			v, ok, err := s.Get("nothing")
			if err != nil {
				t.Fatal(err)
			}
			if ok || v != nil {
				t.Errorf("expected missing record, got %q", v)
			}
		})
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set("catalog", []byte(`{"a":1}`)); err != nil {
				t.Fatal(err)
			}
			v, ok, err := s.Get("catalog")
			if err != nil {
				t.Fatal(err)
			}
			if !ok || string(v) != `{"a":1}` {
				t.Errorf("expected stored record, got %q (ok=%v)", v, ok)
			}

			if err := s.Set("catalog", []byte(`{"a":2}`)); err != nil {
				t.Fatal(err)
			}
			v, _, _ = s.Get("catalog")
			if string(v) != `{"a":2}` {
				t.Errorf("expected overwrite, got %q", v)
			}

			if err := s.Delete("catalog"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.Get("catalog"); ok {
				t.Error("expected record to be deleted")
			}
		})
	}
}

func TestStore_RejectsPathKeys(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Set("../escape", []byte("x"))
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestFileStore_AtomicWrite(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := s.Set("events", []byte("[]")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "events.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not exist after successful write")
	}
	if _, err := os.Stat(filepath.Join(dir, "events.json")); err != nil {
		t.Errorf("expected record file: %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := NewMemory()
	type settings struct {
		Enabled  bool `json:"enabled"`
		Interval int  `json:"interval_seconds"`
	}

	var got settings
	ok, err := LoadJSON(s, KeyAutoSync, &got)
	if err != nil || ok {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}

	if err := SaveJSON(s, KeyAutoSync, settings{Enabled: true, Interval: 60}); err != nil {
		t.Fatal(err)
	}
	ok, err = LoadJSON(s, KeyAutoSync, &got)
	if err != nil || !ok {
		t.Fatalf("expected record, got ok=%v err=%v", ok, err)
	}
	if !got.Enabled || got.Interval != 60 {
		t.Errorf("unexpected settings: %+v", got)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("cassette", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestStore_UpdateConcurrentIncrements(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 20
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := UpdateJSON(s, "counter", func(n *int) error {
						*n++
						return nil
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatal(err)
				}
			}

			var n int
			if _, err := LoadJSON(s, "counter", &n); err != nil {
				t.Fatal(err)
			}
			if n != writers {
				t.Errorf("counter = %d, want %d", n, writers)
			}
		})
	}
}

func TestStore_UpdateSkipsWrite(t *testing.T) {
	errBoom := errors.New("boom")
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := SaveJSON(s, "counter", 7); err != nil {
				t.Fatal(err)
			}
			got, err := UpdateJSON(s, "counter", func(n *int) error {
				*n = 100
				return ErrUnchanged
			})
			if err != nil {
				t.Fatal(err)
			}
			if got != 100 {
				t.Errorf("returned %d, want the value fn saw", got)
			}
			if _, err := UpdateJSON(s, "counter", func(n *int) error {
				*n = 200
				return errBoom
			}); !errors.Is(err, errBoom) {
				t.Fatalf("expected callback error, got %v", err)
			}

			var n int
			if _, err := LoadJSON(s, "counter", &n); err != nil {
				t.Fatal(err)
			}
			if n != 7 {
				t.Errorf("stored %d, want 7", n)
			}
		})
	}
}

func TestFileStore_SeparateInstancesSerializeUpdates(t *testing.T) {
	dir := t.TempDir()
	a, b := NewFileStore(dir), NewFileStore(dir)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, s := range []*FileStore{a, b} {
			wg.Add(1)
			go func(s *FileStore) {
				defer wg.Done()
				if _, err := UpdateJSON(s, "counter", func(n *int) error {
					*n++
					return nil
				}); err != nil {
					t.Error(err)
				}
			}(s)
		}
	}
	wg.Wait()

	var n int
	if _, err := LoadJSON(a, "counter", &n); err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Errorf("counter = %d, want 20", n)
	}
}
