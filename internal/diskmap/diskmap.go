// Package diskmap loads and saves the flat drive-letter-to-path map: a
// trivial JSON text file, deliberately not a config subsystem in its own
// right.
package diskmap

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// UnitOf maps a diskmap drive letter to its CP/M unit number.
var UnitOf = map[string]int{
	"A": 1,
	"B": 2,
	"C": 4,
	"D": 8,
	"I": 15,
}

// Letters is UnitOf's key set in the fixed display order A,B,C,D,I.
var Letters = []string{"A", "B", "C", "D", "I"}

// Map is the decoded diskmap.json contents: drive letter -> backing path.
type Map map[string]string

// Load reads and decodes a diskmap file. An absent file is not an error;
// it returns an empty Map so a fresh controller can start unmounted.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Map{}, nil
		}
		return nil, errors.Wrapf(err, "diskmap: read %s", path)
	}
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "diskmap: decode %s", path)
	}
	for letter := range m {
		if _, ok := UnitOf[letter]; !ok {
			return nil, errors.Errorf("diskmap: unknown drive letter %q in %s", letter, path)
		}
	}
	return m, nil
}

// Save persists m back to path, supplementing the original's `^P` hot-save
// keypress as a plain function the status surface can call. Only the
// recognized drive letters are written, guarding against stray keys
// accumulating in the live map.
func Save(path string, m Map) error {
	ordered := make(map[string]string, len(m))
	for _, l := range Letters {
		if p, ok := m[l]; ok {
			ordered[l] = p
		}
	}

	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return errors.Wrap(err, "diskmap: encode")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "diskmap: write %s", path)
	}
	return nil
}
