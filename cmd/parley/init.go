package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parleybot/parley/internal/defaults"
)

// runInit initializes a parley working directory with default files.
// It creates the data directory and writes the example config and
// prompts. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing parley workspace in %s\n", dir)

	for _, sub := range []string{"data", "data/workspace"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "parley.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	promptsPath := filepath.Join(dir, "prompts.yaml")
	if err := writeIfMissing(promptsPath, defaults.PromptsYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", promptsPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit parley.yaml to add servers and providers, then run: parley chat")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
