package statestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	got := Load(filepath.Join(t.TempDir(), "nope.json"))
	if len(got) != 0 {
		t.Errorf("Load(missing) = %v, want empty map", got)
	}
}

func TestLoad_CorruptFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	if len(got) != 0 {
		t.Errorf("Load(corrupt) = %v, want empty map", got)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	want := map[int]bool{36: true, 34: false, 9: true}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(path)
	if len(got) != len(want) {
		t.Fatalf("Load returned %d entries, want %d", len(got), len(want))
	}
	for pin, state := range want {
		if got[pin] != state {
			t.Errorf("pin %d = %v, want %v", pin, got[pin], state)
		}
	}
}

// TestSave_NumericKeyOrdering guards against encoding/json's default
// lexicographic map-key ordering ("10" before "9"), which would make the
// on-disk document non-deterministic by pin number.
func TestSave_NumericKeyOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	mapping := map[int]bool{9: true, 10: false, 2: true}

	if err := Save(path, mapping); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := `{"P":{"2":true,"9":true,"10":false}}`
	if string(data) != want {
		t.Errorf("Save wrote %q, want %q", data, want)
	}
}

func TestSave_NoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := Save(path, map[int]bool{1: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Errorf("directory contains %v, want only state.json", entries)
	}
}

func TestSave_EmptyMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := Save(path, map[int]bool{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(path)
	if len(got) != 0 {
		t.Errorf("Load = %v, want empty", got)
	}
}
