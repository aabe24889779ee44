// Package paths resolves named directory prefixes. The file backend
// uses a single [Resolver] built from configuration so tool paths like
// "notes:plan.md" land in their configured directory, each prefix a
// sandbox of its own.
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps named prefixes to absolute directory roots. It is
// nil-safe: every method on a nil *Resolver behaves as if no prefixes
// were registered.
type Resolver struct {
	roots  map[string]string // "notes:" -> "/abs/path/to/notes"
	sorted []string          // prefixes sorted by descending length
}

// New creates a Resolver from a prefix-to-directory map. Keys are
// prefix names without the trailing colon (e.g., "notes", not
// "notes:"). Home directory tildes (~) in values are expanded at
// construction time. Returns nil if the map is empty or nil.
func New(roots map[string]string) *Resolver {
	if len(roots) == 0 {
		return nil
	}
	m := make(map[string]string, len(roots))
	sorted := make([]string, 0, len(roots))
	for name, dir := range roots {
		key := name
		if !strings.HasSuffix(key, ":") {
			key += ":"
		}
		m[key] = ExpandHome(dir)
		sorted = append(sorted, key)
	}
	// Longer prefixes match first, so "notes:" cannot steal matches
	// intended for "notes-archive:".
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return &Resolver{roots: m, sorted: sorted}
}

// Split separates a prefixed path into its root directory and the
// remainder. A bare prefix (e.g., "notes:") yields an empty remainder.
// Returns ok=false when no registered prefix matches.
func (r *Resolver) Split(path string) (root, rel string, ok bool) {
	if r == nil {
		return "", "", false
	}
	for _, prefix := range r.sorted {
		if strings.HasPrefix(path, prefix) {
			return r.roots[prefix], strings.TrimPrefix(path, prefix), true
		}
	}
	return "", "", false
}

// Resolve expands a prefixed path to an absolute path. If no
// registered prefix matches, the original path is returned unchanged.
func (r *Resolver) Resolve(path string) string {
	root, rel, ok := r.Split(path)
	if !ok {
		return path
	}
	if rel == "" {
		return root
	}
	return filepath.Join(root, rel)
}

// Prefixes returns the registered prefix names sorted alphabetically,
// without trailing colons. Useful for help output and tool
// descriptions.
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.roots))
	for prefix := range r.roots {
		names = append(names, strings.TrimSuffix(prefix, ":"))
	}
	sort.Strings(names)
	return names
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
