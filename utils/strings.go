package utils

import (
	"path/filepath"
	"strings"
)

func dirOf(path string) string {
	dir := filepath.Dir(path)
	if dir == "" {
		return "."
	}
	return dir
}

// NormalizeName lowercases s and folds '_' and ' ' into '-', so that
// "Lanczos_3" style spellings from flags and env vars match config keys.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}
