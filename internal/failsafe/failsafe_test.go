package failsafe

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	got := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if len(got) != 0 {
		t.Errorf("Load(missing) = %v, want empty map", got)
	}
}

func TestLoad_BindingsList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failsafe.yaml")
	body := []byte(`
bindings:
  - s: 38
    p: 36
  - s: 40
    p: 34
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	want := Map{38: 36, 40: 34}
	if len(got) != len(want) {
		t.Fatalf("Load = %v, want %v", got, want)
	}
	for s, p := range want {
		if got[s] != p {
			t.Errorf("got[%d] = %d, want %d", s, got[s], p)
		}
	}
}

func TestLoad_MapDict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failsafe.yaml")
	body := []byte(`
map:
  "38": 36
  "40": 34
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	want := Map{38: 36, 40: 34}
	if len(got) != len(want) {
		t.Fatalf("Load = %v, want %v", got, want)
	}
	for s, p := range want {
		if got[s] != p {
			t.Errorf("got[%d] = %d, want %d", s, got[s], p)
		}
	}
}

func TestLoad_MapDict_SkipsInvalidKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failsafe.yaml")
	body := []byte(`
map:
  "38": 36
  "not-a-number": 34
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	if len(got) != 1 || got[38] != 36 {
		t.Errorf("Load = %v, want only {38: 36}", got)
	}
}

func TestLoad_BindingsTakesPrecedenceOverMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failsafe.yaml")
	body := []byte(`
bindings:
  - s: 1
    p: 2
map:
  "3": 4
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	if len(got) != 1 || got[1] != 2 {
		t.Errorf("Load = %v, want only {1: 2} from bindings", got)
	}
}

func TestLoad_BindingsList_SkipsInvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failsafe.yaml")
	body := []byte(`
bindings:
  - s: 38
    p: 36
  - s: not-a-number
    p: 34
  - s: 40
    p: 32
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	want := Map{38: 36, 40: 32}
	if len(got) != len(want) {
		t.Fatalf("Load = %v, want %v (malformed entry skipped, rest kept)", got, want)
	}
	for s, p := range want {
		if got[s] != p {
			t.Errorf("got[%d] = %d, want %d", s, got[s], p)
		}
	}
}

func TestLoad_CorruptFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failsafe.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Load(path)
	if len(got) != 0 {
		t.Errorf("Load(corrupt) = %v, want empty", got)
	}
}
