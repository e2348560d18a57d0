package filetree

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid file path")

// NormalizePath returns the canonical form of a file path: forward slashes,
// no leading "/" or "./", no empty segments. Paths ending in "/", empty paths
// and paths with "." or ".." segments are rejected.
func NormalizePath(p string) (string, error) {
	s := strings.ReplaceAll(p, "\\", "/")
	if strings.HasSuffix(s, "/") {
		return "", fmt.Errorf("%w: %q names a folder", ErrInvalidPath, p)
	}
	for strings.HasPrefix(s, "./") {
		s = strings.TrimLeft(s[2:], "/")
	}
	parts := strings.Split(s, "/")
	kept := parts[:0]
	for _, part := range parts {
		switch part {
		case "":
			continue
		case ".", "..":
			return "", fmt.Errorf("%w: %q has a relative segment", ErrInvalidPath, p)
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("%w: %q is empty", ErrInvalidPath, p)
	}
	return strings.Join(kept, "/"), nil
}

// Base returns the last segment of a normalized path.
func Base(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Dir returns the parent folder of a normalized path, "" at the root.
func Dir(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}
