// internal/config/config.go
//
// This package handles the console's configuration file and state directory.
// The directory holds config.yaml and the logs/ folder.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the name of the state directory under the user config dir.
	DirName = "alia"
	// FileName is the config file inside the state directory.
	FileName = "config.yaml"

	DefaultAPIBaseURL       = "http://localhost:8000"
	DefaultMaxMessageLength = 500
	DefaultMockHost         = "127.0.0.1"
	DefaultMockPort         = 8000

	DefaultTypingDelay    = 2000 * time.Millisecond
	DefaultAutoStartDelay = 800 * time.Millisecond
	DefaultPostSendDelay  = 1000 * time.Millisecond
)

const defaultConfigYAML = `# alia console configuration
version: 1

api:
  # Root of the verification backend.
  base_url: http://localhost:8000
  # Per-request timeout. 0 leaves requests unbounded.
  timeout: 0s

# Pauses of the scripted exchange.
delays:
  typing: 2s
  auto_start: 800ms
  post_send: 1s

ui:
  max_message_length: 500

logging:
  # Defaults to <config dir>/logs when empty.
  dir: ""

# Local scripted backend started by "alia mock-server".
mock:
  host: 127.0.0.1
  port: 8000
`

// APIConfig points the console at a backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DelayConfig holds the pauses of the scripted exchange.
type DelayConfig struct {
	Typing    time.Duration `yaml:"typing"`
	AutoStart time.Duration `yaml:"auto_start"`
	PostSend  time.Duration `yaml:"post_send"`
}

// UIConfig holds terminal front end preferences.
type UIConfig struct {
	MaxMessageLength int `yaml:"max_message_length"`
}

// LoggingConfig controls where log files go.
type LoggingConfig struct {
	Dir string `yaml:"dir"`
}

// MockConfig configures the local scripted backend.
type MockConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FileConfig models config.yaml.
type FileConfig struct {
	Version int           `yaml:"version"`
	API     APIConfig     `yaml:"api"`
	Delays  DelayConfig   `yaml:"delays"`
	UI      UIConfig      `yaml:"ui"`
	Logging LoggingConfig `yaml:"logging"`
	Mock    MockConfig    `yaml:"mock"`
}

// Config holds the runtime configuration.
type Config struct {
	// Dir is the state directory holding config.yaml and logs/.
	Dir string
	// Path is the config file that was loaded.
	Path string

	File FileConfig
}

// DefaultDir resolves the state directory: $ALIA_HOME, then
// $XDG_CONFIG_HOME/alia, then ~/.config/alia.
func DefaultDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("ALIA_HOME")); dir != "" {
		return filepath.Clean(dir), nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, DirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", DirName), nil
}

// Load reads the config file at path, creating a commented default first if
// it is missing. An empty path means DefaultDir()/config.yaml. Environment
// overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, FileName)
	}
	cfg := &Config{
		Dir:  filepath.Dir(path),
		Path: path,
		File: defaultFileConfig(),
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: ensure config dir: %w", err)
	}
	if err := ensureConfigFile(path); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching the disk.
func Default() *Config {
	fc := defaultFileConfig()
	fc.applyEnvOverrides()
	fc.normalize("")
	return &Config{File: fc}
}

// APIBaseURL returns the configured backend root.
func (c *Config) APIBaseURL() string {
	return c.File.API.BaseURL
}

// SetAPIBaseURL overrides the backend root for this run only.
func (c *Config) SetAPIBaseURL(raw string) error {
	candidate := strings.TrimRight(strings.TrimSpace(raw), "/")
	if err := validateBaseURL(candidate); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.File.API.BaseURL = candidate
	return nil
}

// RequestTimeout returns the per-request timeout; zero means none.
func (c *Config) RequestTimeout() time.Duration {
	return c.File.API.Timeout
}

// MaxMessageLength returns the reply length cap.
func (c *Config) MaxMessageLength() int {
	return c.File.UI.MaxMessageLength
}

// LogsDir returns the directory for log files.
func (c *Config) LogsDir() string {
	if c.File.Logging.Dir != "" {
		return c.File.Logging.Dir
	}
	return filepath.Join(c.Dir, "logs")
}

// JourneyPath returns the file backing the user-visible logbook.
func (c *Config) JourneyPath() string {
	return filepath.Join(c.LogsDir(), "journey.log")
}

// MockAddress returns the host:port the mock backend binds to.
func (c *Config) MockAddress() string {
	return net.JoinHostPort(c.File.Mock.Host, strconv.Itoa(c.File.Mock.Port))
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.File.applyEnvOverrides()
			c.File.normalize(c.Dir)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", c.Path, err)
	}

	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.Path, err)
	}

	parsed.applyDefaults()
	parsed.applyEnvOverrides()
	parsed.normalize(c.Dir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.File = parsed
	return nil
}

func defaultFileConfig() FileConfig {
	fc := FileConfig{}
	fc.applyDefaults()
	return fc
}

func (fc *FileConfig) applyDefaults() {
	if fc.Version == 0 {
		fc.Version = 1
	}
	if strings.TrimSpace(fc.API.BaseURL) == "" {
		fc.API.BaseURL = DefaultAPIBaseURL
	}
	if fc.Delays.Typing == 0 {
		fc.Delays.Typing = DefaultTypingDelay
	}
	if fc.Delays.AutoStart == 0 {
		fc.Delays.AutoStart = DefaultAutoStartDelay
	}
	if fc.Delays.PostSend == 0 {
		fc.Delays.PostSend = DefaultPostSendDelay
	}
	if fc.UI.MaxMessageLength == 0 {
		fc.UI.MaxMessageLength = DefaultMaxMessageLength
	}
	if strings.TrimSpace(fc.Mock.Host) == "" {
		fc.Mock.Host = DefaultMockHost
	}
	if fc.Mock.Port == 0 {
		fc.Mock.Port = DefaultMockPort
	}
}

func (fc *FileConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("ALIA_API_BASE_URL")); value != "" {
		fc.API.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("ALIA_LOG_DIR")); value != "" {
		fc.Logging.Dir = value
	}
	if value := strings.TrimSpace(os.Getenv("ALIA_MOCK_HOST")); value != "" {
		fc.Mock.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("ALIA_MOCK_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && isValidPort(parsed) {
			fc.Mock.Port = parsed
		}
	}
}

func (fc *FileConfig) normalize(base string) {
	fc.API.BaseURL = strings.TrimRight(strings.TrimSpace(fc.API.BaseURL), "/")
	fc.Mock.Host = strings.TrimSpace(fc.Mock.Host)
	fc.Logging.Dir = resolvePath(base, fc.Logging.Dir)
}

func (fc *FileConfig) validate() error {
	if fc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if err := validateBaseURL(fc.API.BaseURL); err != nil {
		return err
	}
	if fc.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"delays.typing":     fc.Delays.Typing,
		"delays.auto_start": fc.Delays.AutoStart,
		"delays.post_send":  fc.Delays.PostSend,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if fc.UI.MaxMessageLength < 1 {
		return fmt.Errorf("ui.max_message_length must be >= 1")
	}
	if !isValidPort(fc.Mock.Port) {
		return fmt.Errorf("mock.port %d out of range", fc.Mock.Port)
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url %q has no host", raw)
	}
	return nil
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) || base == "" {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
