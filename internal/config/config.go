// Package config handles parley configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./parley.yaml, ~/.config/parley/parley.yaml, /etc/parley/parley.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"parley.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "parley.yaml"))
	}

	paths = append(paths, "/etc/parley/parley.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all parley configuration.
type Config struct {
	Servers     []ServerConfig  `yaml:"servers"`
	Providers   ProvidersConfig `yaml:"providers"`
	Retry       RetryConfig     `yaml:"retry"`
	DataDir     string          `yaml:"data_dir"`
	PromptsFile string          `yaml:"prompts_file"`
	HistoryFile string          `yaml:"history_file"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"` // text or json
}

// ServerConfig describes one tool server to bring up at startup.
type ServerConfig struct {
	// Name uniquely identifies the server and scopes its tools.
	Name string `yaml:"name"`

	// Transport selects how the server is reached: "builtin" for the
	// in-process backends, "stdio" for a subprocess speaking JSON-RPC
	// on stdin/stdout, "http" for a remote JSON-RPC endpoint.
	Transport string `yaml:"transport"`

	// Command and Args launch a stdio server's subprocess.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Env holds extra environment variables for the subprocess
	// (format: "KEY=VALUE").
	Env []string `yaml:"env"`

	// URL is the endpoint of an HTTP server.
	URL string `yaml:"url"`

	// Headers are sent with every HTTP request (e.g. Authorization).
	Headers map[string]string `yaml:"headers"`

	// Options carries builtin-specific settings (workspace path for the
	// file backend, db path for sqlite, transcriber command, ...).
	Options map[string]string `yaml:"options"`

	// Prompt is this server's system prompt section. It takes
	// precedence over the prompts file's server_prompts entry of the
	// same name.
	Prompt string `yaml:"prompt"`
}

// ProvidersConfig defines the model backends and which one starts active.
type ProvidersConfig struct {
	Default string         `yaml:"default"` // provider name, e.g. "ollama"
	Ollama  OllamaConfig   `yaml:"ollama"`
	OpenAI  OpenAIConfig   `yaml:"openai"`
	Embed   EmbeddingsConf `yaml:"embeddings"`
}

// OllamaConfig defines the local Ollama backend.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig defines a hosted OpenAI-compatible backend. The API key
// is usually supplied via ${OPENAI_API_KEY} expansion.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // optional override for compatible APIs
	Model   string `yaml:"model"`
}

// EmbeddingsConf defines embedding generation for the retrieval backend.
type EmbeddingsConf struct {
	BaseURL string `yaml:"base_url"` // defaults to providers.ollama.base_url
	Model   string `yaml:"model"`    // e.g. nomic-embed-text
}

// RetryConfig defines the tool invocation retry policy.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"` // "fixed" or "exponential"

	// DelayMS is the base backoff delay between attempts in milliseconds.
	DelayMS int `yaml:"delay_ms"`

	// TimeoutSec is the per-attempt timeout in seconds.
	TimeoutSec int `yaml:"timeout_sec"`
}

// Delay returns the base backoff delay as a duration.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Timeout returns the per-attempt timeout as a duration.
func (r RetryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// Load reads configuration from a YAML file. Environment variables in
// the file (e.g. ${OPENAI_API_KEY}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations the rest of the system cannot honor.
func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true

		switch s.Transport {
		case "builtin":
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("server %q: stdio transport requires a command", s.Name)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("server %q: http transport requires a url", s.Name)
			}
		default:
			return fmt.Errorf("server %q: unknown transport %q", s.Name, s.Transport)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1 (got %d)", c.Retry.MaxAttempts)
	}

	return nil
}

// Default returns a default configuration: four builtin servers
// (transcribe is left out since it needs a local whisper binary),
// Ollama as the active provider, and a three-attempt fixed backoff.
func Default() *Config {
	return &Config{
		Servers: []ServerConfig{
			{Name: "memory", Transport: "builtin"},
			{Name: "sqlite", Transport: "builtin"},
			{Name: "file", Transport: "builtin"},
			{Name: "retrieval", Transport: "builtin"},
		},
		Providers: ProvidersConfig{
			Default: "ollama",
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3.2:latest",
			},
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
			Embed: EmbeddingsConf{
				Model: "nomic-embed-text",
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     "fixed",
			DelayMS:     1000,
			TimeoutSec:  30,
		},
		DataDir:     ".",
		HistoryFile: ".parley_history",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}
