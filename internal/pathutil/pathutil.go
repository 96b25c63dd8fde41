// Package pathutil provides a sandboxed join for turning CP/M user numbers
// and directory-extent filenames into native filesystem paths.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafeJoin joins root with the given path segments and rejects the result
// if it would escape root (via "..", a symlink-free lexical check). Used
// to build native filesystem paths out of CP/M user numbers and filenames
// that arrive from directory extent bytes, never from a trusted source.
func SafeJoin(root string, segs ...string) (string, error) {
	joined := filepath.Join(append([]string{root}, segs...)...)
	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return "", fmt.Errorf("pathutil: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("pathutil: path escapes root: %s", joined)
	}
	return joined, nil
}
