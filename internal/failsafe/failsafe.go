// Package failsafe loads the static S-pin -> P-pin mirror map used while the
// broker is unreachable.
package failsafe

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Map is an immutable S-pin -> P-pin binding table.
type Map map[int]int

// document decodes "bindings" and "map" into loose shapes (rather than
// strict int-typed fields) so one malformed entry doesn't fail the unmarshal
// for the whole document; each entry is validated and converted by hand below.
type document struct {
	Bindings []map[string]any `yaml:"bindings"`
	Mapping  map[string]any   `yaml:"map"`
}

// Load reads the failsafe file at path. It accepts either a list of
// {s, p} pairs under "bindings" or a string-keyed mapping under "map".
// A missing file yields an empty map; invalid entries are skipped silently
// so a malformed file never aborts startup.
func Load(path string) Map {
	result := Map{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return result
	}
	if err != nil {
		log.Printf("failsafe: read %s failed: %v", path, err)
		return result
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Printf("failsafe: parse %s failed: %v", path, err)
		return result
	}

	if len(doc.Bindings) > 0 {
		for _, entry := range doc.Bindings {
			s, ok := asInt(entry["s"])
			if !ok {
				log.Printf("failsafe: skipping binding with invalid s: %v", entry)
				continue
			}
			p, ok := asInt(entry["p"])
			if !ok {
				log.Printf("failsafe: skipping binding with invalid p: %v", entry)
				continue
			}
			result[s] = p
		}
		return result
	}
	for sStr, v := range doc.Mapping {
		s, err := strconv.Atoi(sStr)
		if err != nil {
			continue
		}
		p, ok := asInt(v)
		if !ok {
			continue
		}
		result[s] = p
	}
	return result
}

// asInt converts a loosely-typed YAML scalar to an int, accepting the
// numeric kinds yaml.v3 produces when decoding into interface{}.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
