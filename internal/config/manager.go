package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	LLMProvider    string `json:"llm_provider,omitempty"`    // openai, anthropic, gemini, ollama, etc.
	APIKey         string `json:"api_key,omitempty"`         // The API key for the selected provider
	Model          string `json:"model,omitempty"`           // Default model name
	BaseURL        string `json:"base_url,omitempty"`        // Optional override for API base URL
	MaxAttempts    int    `json:"max_attempts,omitempty"`    // Default attempt budget per run
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // Default per-execution timeout
	SandboxMode    string `json:"sandbox_mode,omitempty"`    // docker, host, starlark or auto
	DockerImage    string `json:"docker_image,omitempty"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"llm_provider", "api_key", "model", "base_url",
	"max_attempts", "timeout_seconds", "sandbox_mode", "docker_image",
}

// Set assigns a value by key, as used by `rexec config set`.
func (c *Config) Set(key, value string) error {
	switch key {
	case "llm_provider":
		c.LLMProvider = strings.ToLower(value)
	case "api_key":
		c.APIKey = value
	case "model":
		c.Model = value
	case "base_url":
		c.BaseURL = value
	case "max_attempts", "timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, value)
		}
		if key == "max_attempts" {
			c.MaxAttempts = n
		} else {
			c.TimeoutSeconds = n
		}
	case "sandbox_mode":
		c.SandboxMode = strings.ToLower(value)
	case "docker_image":
		c.DockerImage = value
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys, ", "))
	}
	return nil
}

// Values renders the config as key/value pairs with the API key masked.
func (c *Config) Values() map[string]string {
	v := map[string]string{
		"llm_provider":    c.LLMProvider,
		"api_key":         maskKey(c.APIKey),
		"model":           c.Model,
		"base_url":        c.BaseURL,
		"max_attempts":    "",
		"timeout_seconds": "",
		"sandbox_mode":    c.SandboxMode,
		"docker_image":    c.DockerImage,
	}
	if c.MaxAttempts > 0 {
		v["max_attempts"] = strconv.Itoa(c.MaxAttempts)
	}
	if c.TimeoutSeconds > 0 {
		v["timeout_seconds"] = strconv.Itoa(c.TimeoutSeconds)
	}
	return v
}

func maskKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "..." + k[len(k)-4:]
}

// RunOptions returns the run defaults, falling back to the engine defaults.
func (c *Config) RunOptions() engine.RunOptions {
	opts := engine.DefaultRunOptions()
	if c.MaxAttempts > 0 {
		opts.MaxAttempts = c.MaxAttempts
	}
	if c.TimeoutSeconds > 0 {
		opts = engine.OptionsFromSeconds(opts.MaxAttempts, c.TimeoutSeconds)
	}
	return opts
}

// ApplyEnv exports the provider settings as the environment variables read by
// the provider factory and sandbox. Variables already set win.
func (c *Config) ApplyEnv() {
	setIfEmpty := func(k, v string) {
		if v == "" || os.Getenv(k) != "" {
			return
		}
		os.Setenv(k, v)
	}
	setIfEmpty("LLM_PROVIDER", c.LLMProvider)
	if c.LLMProvider != "" {
		prefix := strings.ToUpper(c.LLMProvider)
		setIfEmpty(prefix+"_API_KEY", c.APIKey)
		setIfEmpty(prefix+"_MODEL", c.Model)
		setIfEmpty(prefix+"_BASE_URL", c.BaseURL)
	}
	setIfEmpty("REXEC_SANDBOX_MODE", c.SandboxMode)
	setIfEmpty("REXEC_DOCKER_IMAGE", c.DockerImage)
}

// LoadDotEnv loads .env from the working directory when present.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a configuration manager rooted at the user config dir
// ($XDG_CONFIG_HOME/rexec on Linux).
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "rexec")), nil
}

// NewManagerAt creates a configuration manager for an explicit directory.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the configuration directory. Run history is stored alongside.
func (m *Manager) Dir() string {
	return m.configDir
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	return loadFile(m.GetConfigPath())
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return &Config{}, nil
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with 0600 permissions (read/write only by owner)
	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}

// SortedValues returns the displayable key/value pairs in Keys order.
func SortedValues(c *Config) [][2]string {
	values := c.Values()
	out := make([][2]string, 0, len(Keys))
	for _, k := range Keys {
		out = append(out, [2]string{k, values[k]})
	}
	return out
}
