// Package tree turns the comma-indented tree notation into a validated
// forest of nodes and provides the canonical path addressing shared by
// the compiler, the navigation runtime and the results engine.
package tree

import (
	"strings"
	"unicode"
)

// Canonicalize converts a node label into a URL-safe path segment.
// The label is trimmed and lowercased, every run of whitespace becomes a
// single hyphen, and anything other than letters, digits, '-' and '_' is
// dropped. It is total and idempotent; an empty label yields "".
func Canonicalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))

	var b strings.Builder
	b.Grow(len(label))

	inSpace := false
	for _, r := range label {
		switch {
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('-')
				inSpace = true
			}
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
			inSpace = false
		}
	}

	return b.String()
}

// JoinPath joins canonical segments into an absolute path ("/a/b")
func JoinPath(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

// SplitPath returns the segments of a canonical path
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// LastSegment returns the final segment of a canonical path
func LastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// IsAncestorPath reports whether ancestor is a strict prefix of path on a
// segment boundary
func IsAncestorPath(ancestor, path string) bool {
	return len(path) > len(ancestor) &&
		strings.HasPrefix(path, ancestor) &&
		path[len(ancestor)] == '/'
}
