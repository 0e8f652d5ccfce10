package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "chatsync"
	// DefaultServerURL is the REST endpoint root used when no override exists.
	DefaultServerURL = "http://localhost:4000/api"
	// DefaultSocketPath is the live-channel path on the chat server.
	DefaultSocketPath = "/socket"
	// DefaultPageLimit is the history page size.
	DefaultPageLimit = 50
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ClientConfig contains persistent chat client settings. Timings are in
// milliseconds so the file stays plain JSON numbers.
type ClientConfig struct {
	ServerURL          string `json:"server_url"`
	SocketPath         string `json:"socket_path"`
	PageLimit          int    `json:"page_limit"`
	TypingDebounceMs   int    `json:"typing_debounce_ms"`
	RemoteTypingTTLMs  int    `json:"remote_typing_ttl_ms"`
	ReconnectMaxWaitMs int    `json:"reconnect_max_wait_ms"`
	ReconnectGiveUpMs  int    `json:"reconnect_give_up_ms"`
}

// TypingDebounce returns the configured debounce as a duration.
func (c *ClientConfig) TypingDebounce() time.Duration {
	return time.Duration(c.TypingDebounceMs) * time.Millisecond
}

// RemoteTypingTTL returns the remote typing expiry as a duration.
func (c *ClientConfig) RemoteTypingTTL() time.Duration {
	return time.Duration(c.RemoteTypingTTLMs) * time.Millisecond
}

// ReconnectMaxWait returns the backoff ceiling as a duration.
func (c *ClientConfig) ReconnectMaxWait() time.Duration {
	return time.Duration(c.ReconnectMaxWaitMs) * time.Millisecond
}

// ReconnectGiveUp returns the total reconnect budget as a duration.
func (c *ClientConfig) ReconnectGiveUp() time.Duration {
	return time.Duration(c.ReconnectGiveUpMs) * time.Millisecond
}

// SocketURL derives the live-channel endpoint from the REST server URL.
func (c *ClientConfig) SocketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("config: parse server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("config: server URL %q must be http(s)", c.ServerURL)
	}
	u.Path = c.SocketPath
	u.RawQuery = ""
	return u.String(), nil
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CHATSYNC_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("CHATSYNC_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectory creates the app data directory if needed.
func EnsureDataDirectory(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns
// the config and its path.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectory(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL:          DefaultServerURL,
		SocketPath:         DefaultSocketPath,
		PageLimit:          DefaultPageLimit,
		TypingDebounceMs:   2000,
		RemoteTypingTTLMs:  5000,
		ReconnectMaxWaitMs: 30_000,
		ReconnectGiveUpMs:  300_000,
	}
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
		updated = true
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
		updated = true
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
		updated = true
	}
	if cfg.TypingDebounceMs <= 0 {
		cfg.TypingDebounceMs = 2000
		updated = true
	}
	if cfg.RemoteTypingTTLMs <= 0 {
		cfg.RemoteTypingTTLMs = 5000
		updated = true
	}
	if cfg.ReconnectMaxWaitMs <= 0 {
		cfg.ReconnectMaxWaitMs = 30_000
		updated = true
	}
	if cfg.ReconnectGiveUpMs <= 0 {
		cfg.ReconnectGiveUpMs = 300_000
		updated = true
	}

	return updated
}
