// Package history keeps the interactive prompt's input history with
// optional file persistence across sessions.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultLimit caps how many entries are kept.
const DefaultLimit = 1000

// History is an in-memory input history. Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []string
	path    string
	limit   int
}

// New creates an empty, memory-only history.
func New() *History {
	return &History{limit: DefaultLimit}
}

// Load creates a history backed by the file at path, reading any
// existing entries. A missing file is not an error.
func Load(path string) (*History, error) {
	h := &History{path: path, limit: DefaultLimit}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			h.entries = append(h.entries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	h.trim()
	return h, nil
}

// Add appends an input line. Empty lines and immediate repeats are
// dropped.
func (h *History) Add(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && h.entries[n-1] == input {
		return
	}

	h.entries = append(h.entries, input)
	h.trim()
}

// trim drops the oldest entries beyond the limit. Caller holds h.mu
// (or is still constructing).
func (h *History) trim() {
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// Recent returns up to n entries, newest last.
func (h *History) Recent(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]string, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Save writes the history to its backing file. A memory-only history
// saves nothing.
func (h *History) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	var sb strings.Builder
	for _, e := range h.entries {
		sb.WriteString(e)
		sb.WriteString("\n")
	}

	if err := os.WriteFile(h.path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
