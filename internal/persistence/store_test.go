package persistence

import (
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	blob, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if blob != nil {
		t.Fatalf("expected nil blob for a missing file, got %v", blob)
	}

	want := []byte(`{"hello":"world"}`)
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMemoryStoreIsIsolatedFromCallerBuffer(t *testing.T) {
	store := NewMemoryStore()
	buf := []byte("original")
	if err := store.Save(buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	buf[0] = 'X'

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("Save must copy its input, got %s", got)
	}
}
