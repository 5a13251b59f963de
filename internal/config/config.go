package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for the stories client and its cache proxy.
type Config struct {
	ClientID    string            `toml:"client_id"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	API         APIConfig         `toml:"api"`
	Database    DatabaseConfig    `toml:"database"`
	Credentials CredentialsConfig `toml:"credentials"`
	Sync        SyncConfig        `toml:"sync"`
	Proxy       ProxyConfig       `toml:"proxy"`
}

// APIConfig describes the remote story API.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the per-request timeout, defaulting to 30s.
func (c APIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatabaseConfig represents configuration for the offline store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CredentialsConfig controls where the session token is kept.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CredentialsConfig struct {
	Type      string `toml:"type"`                 // "age" (default) or "memory"
	KeyPath   string `toml:"key_path,omitempty"`   // age identity, only used for type=age
	TokenPath string `toml:"token_path,omitempty"` // encrypted token, only used for type=age
}

// SyncConfig controls how the offline queue is drained.
type SyncConfig struct {
	ClearPolicy          string `toml:"clear_policy"` // "per-item" (default) or "clear-all"
	ProbeIntervalSeconds int    `toml:"probe_interval_seconds"`
}

// ProbeInterval returns how often reachability is probed, defaulting to 15s.
func (c SyncConfig) ProbeInterval() time.Duration {
	if c.ProbeIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProxyConfig configures the background cache proxy process.
type ProxyConfig struct {
	ListenAddr      string      `toml:"listen_addr"`
	ClientProxyURL  string      `toml:"client_proxy_url,omitempty"` // when set, the client routes API calls through the proxy
	AppOrigin       string      `toml:"app_origin"`                 // origin that relative static assets resolve against
	Version         string      `toml:"version"`                    // cache generation suffix
	StaticAssets    []string    `toml:"static_assets"`
	ShellPath       string      `toml:"shell_path"`
	PlaceholderPath string      `toml:"placeholder_path"`
	Cache           CacheConfig `toml:"cache"`
}

// CacheConfig selects the cache generation storage.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CacheConfig struct {
	Type string `toml:"type"`          // "filesystem" or "memory"
	Dir  string `toml:"dir,omitempty"` // only used for type=filesystem
}

// DefaultStaticAssets is the app shell precached on install.
var DefaultStaticAssets = []string{
	"./",
	"./index.html",
	"./styles/main.css",
	"./styles/story-detail.css",
	"./styles/add-story.css",
	"./manifest.json",
	"./icons/icon-72x72.png",
	"./icons/icon-96x96.png",
	"./icons/icon-128x128.png",
	"./icons/icon-144x144.png",
	"./icons/icon-152x152.png",
	"./icons/icon-192x192.png",
	"./icons/icon-384x384.png",
	"./icons/icon-512x512.png",
	"https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
	"https://unpkg.com/leaflet@1.9.4/dist/leaflet.js",
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(clientID, baseDir string) *Config {
	return &Config{
		ClientID: clientID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		API: APIConfig{
			BaseURL:        "https://story-api.dicoding.dev/v1",
			TimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Credentials: CredentialsConfig{
			Type:      "age",
			KeyPath:   filepath.Join(baseDir, "keys", "stories.key"),
			TokenPath: filepath.Join(baseDir, "keys", "token.age"),
		},
		Sync: SyncConfig{
			ClearPolicy:          "per-item",
			ProbeIntervalSeconds: 15,
		},
		Proxy: ProxyConfig{
			ListenAddr:      "127.0.0.1:8787",
			AppOrigin:       "http://localhost:8080",
			Version:         "v3",
			StaticAssets:    append([]string(nil), DefaultStaticAssets...),
			ShellPath:       "./index.html",
			PlaceholderPath: "./icons/icon-192x192.png",
			Cache: CacheConfig{
				Type: "filesystem",
				Dir:  filepath.Join(baseDir, "cache"),
			},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
