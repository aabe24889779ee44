package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersionText(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), strings.NewReader(""), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), "Parley") {
		t.Errorf("version output = %q", out.String())
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output missing go_version: %q", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), strings.NewReader(""), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal([]byte(out.String()), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, out.String())
	}
	for _, k := range []string{"version", "go_version", "os", "arch"} {
		if info[k] == "" {
			t.Errorf("version JSON missing %q", k)
		}
	}
}

func TestRunArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"dance"}},
		{"unknown flag", []string{"-frobnicate"}},
		{"bad output format", []string{"-o", "yaml", "version"}},
		{"ask without question", []string{"ask"}},
		{"ingest without path", []string{"ingest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			if err := run(context.Background(), strings.NewReader(""), &out, &out, tt.args); err == nil {
				t.Errorf("run(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), strings.NewReader(""), &out, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: parley") {
		t.Errorf("usage output = %q", out.String())
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()

	var out strings.Builder
	if err := run(context.Background(), strings.NewReader(""), &out, &out, []string{"init", dir}); err != nil {
		t.Fatalf("run init: %v", err)
	}

	configPath := filepath.Join(dir, "parley.yaml")
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "prompts.yaml")); err != nil {
		t.Errorf("prompts not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "workspace")); err != nil {
		t.Errorf("workspace not created: %v", err)
	}

	// A second init must not overwrite user edits.
	if err := os.WriteFile(configPath, []byte("# customized\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(context.Background(), strings.NewReader(""), &out, &out, []string{"init", dir}); err != nil {
		t.Fatalf("second init: %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# customized\n" {
		t.Error("init overwrote an existing config")
	}
}

// writeChatConfig writes a minimal config that brings up only the
// in-process memory server, so chat tests need no network or binaries.
func writeChatConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	cfg := `servers:
  - name: memory
    transport: builtin
providers:
  default: ollama
  ollama:
    base_url: http://localhost:11434
    model: test-model
retry:
  max_attempts: 1
  backoff: fixed
  delay_ms: 1
  timeout_sec: 1
data_dir: ` + dir + `
history_file: ` + filepath.Join(dir, "history") + `
log_level: error
log_format: text
`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunChatCommands(t *testing.T) {
	configPath := writeChatConfig(t)

	input := strings.NewReader("/servers\n/tools\n/model\n/usage\n/history\n/help\n/bogus\n/exit\n")
	var out, errOut strings.Builder

	err := run(context.Background(), input, &out, &errOut, []string{"-config", configPath, "chat"})
	if err != nil {
		t.Fatalf("run chat: %v\nstderr: %s", err, errOut.String())
	}

	got := out.String()
	for _, want := range []string{
		"memory",
		"memory_set",
		"active: ollama",
		"requests: 0",
		"/usage",
		"/clear",
		"unknown command /bogus",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("chat output missing %q\n%s", want, got)
		}
	}
}

func TestRunChatEOF(t *testing.T) {
	configPath := writeChatConfig(t)

	var out, errOut strings.Builder
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-config", configPath, "chat"})
	if err != nil {
		t.Fatalf("run chat: %v", err)
	}
	if !strings.Contains(out.String(), "Goodbye!") {
		t.Errorf("chat did not exit cleanly on EOF: %q", out.String())
	}
}

func TestLoadConfigMissingExplicit(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicit missing config did not fail")
	}
}
