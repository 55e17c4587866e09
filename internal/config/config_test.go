package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ALIA_HOME", "XDG_CONFIG_HOME", "ALIA_API_BASE_URL", "ALIA_LOG_DIR", "ALIA_MOCK_HOST", "ALIA_MOCK_PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadWritesDefaultConfigWhenMissing(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file: %v", err)
	}
	if cfg.APIBaseURL() != DefaultAPIBaseURL {
		t.Fatalf("base url = %q, want %q", cfg.APIBaseURL(), DefaultAPIBaseURL)
	}
	if cfg.File.Delays.Typing != DefaultTypingDelay || cfg.File.Delays.AutoStart != DefaultAutoStartDelay || cfg.File.Delays.PostSend != DefaultPostSendDelay {
		t.Fatalf("unexpected delays: %+v", cfg.File.Delays)
	}
	if cfg.RequestTimeout() != 0 {
		t.Fatalf("expected no request timeout, got %s", cfg.RequestTimeout())
	}
	if cfg.MaxMessageLength() != DefaultMaxMessageLength {
		t.Fatalf("max message length = %d", cfg.MaxMessageLength())
	}
	if cfg.LogsDir() != filepath.Join(dir, "logs") {
		t.Fatalf("logs dir = %q", cfg.LogsDir())
	}
}

func TestLoadParsesYaml(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	configYAML := strings.TrimSpace(`
version: 1
api:
  base_url: https://alia.example.com/
  timeout: 15s
delays:
  typing: 500ms
ui:
  max_message_length: 280
logging:
  dir: var/logs
mock:
  port: 9100
`)
	if err := os.WriteFile(path, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIBaseURL() != "https://alia.example.com" {
		t.Fatalf("base url not normalized: %q", cfg.APIBaseURL())
	}
	if cfg.RequestTimeout() != 15*time.Second {
		t.Fatalf("timeout = %s", cfg.RequestTimeout())
	}
	if cfg.File.Delays.Typing != 500*time.Millisecond {
		t.Fatalf("typing delay = %s", cfg.File.Delays.Typing)
	}
	if cfg.File.Delays.PostSend != DefaultPostSendDelay {
		t.Fatalf("post-send delay should default, got %s", cfg.File.Delays.PostSend)
	}
	if cfg.MaxMessageLength() != 280 {
		t.Fatalf("max message length = %d", cfg.MaxMessageLength())
	}
	if cfg.LogsDir() != filepath.Join(dir, "var", "logs") {
		t.Fatalf("log dir not resolved: %q", cfg.LogsDir())
	}
	if cfg.MockAddress() != "127.0.0.1:9100" {
		t.Fatalf("mock address = %q", cfg.MockAddress())
	}
}

func TestLoadValidation(t *testing.T) {
	isolate(t)
	cases := map[string]string{
		"bad scheme":       "api:\n  base_url: ftp://example.com\n",
		"negative timeout": "api:\n  timeout: -1s\n",
		"negative delay":   "delays:\n  post_send: -5ms\n",
		"bad port":         "mock:\n  port: 70000\n",
		"bad version":      "version: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	home := t.TempDir()
	t.Setenv("ALIA_HOME", home)
	t.Setenv("ALIA_API_BASE_URL", "http://backend:9000/")
	t.Setenv("ALIA_LOG_DIR", filepath.Join(home, "elsewhere"))
	t.Setenv("ALIA_MOCK_HOST", "0.0.0.0")
	t.Setenv("ALIA_MOCK_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Path != filepath.Join(home, FileName) {
		t.Fatalf("config path = %q", cfg.Path)
	}
	if cfg.APIBaseURL() != "http://backend:9000" {
		t.Fatalf("base url = %q", cfg.APIBaseURL())
	}
	if cfg.LogsDir() != filepath.Join(home, "elsewhere") {
		t.Fatalf("logs dir = %q", cfg.LogsDir())
	}
	if cfg.MockAddress() != "0.0.0.0:9999" {
		t.Fatalf("mock address = %q", cfg.MockAddress())
	}
}

func TestDefaultDirPrefersXDG(t *testing.T) {
	isolate(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir, err := DefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(xdg, DirName) {
		t.Fatalf("dir = %q", dir)
	}
}

func TestSetAPIBaseURL(t *testing.T) {
	isolate(t)
	cfg := Default()
	if err := cfg.SetAPIBaseURL("not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
	if err := cfg.SetAPIBaseURL("http://127.0.0.1:8123/"); err != nil {
		t.Fatalf("SetAPIBaseURL: %v", err)
	}
	if cfg.APIBaseURL() != "http://127.0.0.1:8123" {
		t.Fatalf("base url = %q", cfg.APIBaseURL())
	}
}
