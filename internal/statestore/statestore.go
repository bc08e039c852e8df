// Package statestore persists the output-pin state as a small JSON document,
// written atomically so a crash mid-save never corrupts the file.
package statestore

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

type document struct {
	P map[string]bool `json:"P"`
}

// Load reads the output-pin state at path. A missing file or a parse error
// both yield an empty map (the latter logs a warning) rather than an error,
// since a corrupt state file must never block startup.
func Load(path string) map[int]bool {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[int]bool{}
	}
	if err != nil {
		log.Printf("statestore: read %s failed: %v", path, err)
		return map[int]bool{}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("statestore: parse %s failed: %v", path, err)
		return map[int]bool{}
	}

	result := make(map[int]bool, len(doc.P))
	for k, v := range doc.P {
		pin, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		result[pin] = v
	}
	return result
}

// Save writes mapping to path atomically: a temp file in the same directory
// is written, fsynced, then renamed over the target. The temp file is
// removed on any failure.
func Save(path string, mapping map[int]bool) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	keys := make([]int, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	// encoding/json always sorts map[string]T keys lexicographically, which
	// would put "10" before "9"; build the inner object by hand to keep
	// numeric pin ordering deterministic.
	var buf bytes.Buffer
	buf.WriteString(`{"P":{`)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(strconv.Itoa(k))
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if mapping[k] {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	}
	buf.WriteString("}}")
	data := buf.Bytes()

	tmp, err := os.CreateTemp(dir, ".tmp_state_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
