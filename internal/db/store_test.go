package db

import (
	"errors"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewStore(tmpDir, nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_GetSet(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set("deployments/a", []byte("test-value")); err != nil {
		t.Fatalf("set value: %v", err)
	}

	got, err := store.Get("deployments/a")
	if err != nil {
		t.Fatalf("get value: %v", err)
	}
	if string(got) != "test-value" {
		t.Errorf("expected test-value, got %s", got)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Update(t *testing.T) {
	store := newTestStore(t)
	store.Set("counter", []byte("a"))

	err := store.Update("counter", func(current []byte) ([]byte, error) {
		return append(current, 'b'), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := store.Get("counter")
	if string(got) != "ab" {
		t.Errorf("expected ab, got %s", got)
	}
}

func TestStore_UpdateNilLeavesValue(t *testing.T) {
	store := newTestStore(t)
	store.Set("k", []byte("keep"))

	if err := store.Update("k", func([]byte) ([]byte, error) { return nil, nil }); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := store.Get("k")
	if string(got) != "keep" {
		t.Errorf("expected keep, got %s", got)
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	store := newTestStore(t)

	err := store.Update("missing", func(current []byte) ([]byte, error) {
		t.Error("fn should not be called")
		return current, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Scan(t *testing.T) {
	store := newTestStore(t)
	store.Set("deployments/1", []byte("one"))
	store.Set("deployments/2", []byte("two"))
	store.Set("other/3", []byte("three"))

	var keys []string
	err := store.Scan("deployments/", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0] != "deployments/1" || keys[1] != "deployments/2" {
		t.Errorf("unexpected keys %v", keys)
	}
}
