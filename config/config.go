// Package config provides configuration management for the gchat gateway.
// It supports JSON-based configuration loading with safe defaults, and
// collapses every process-wide tunable (browser choice, profile, cache
// directory, gateway address, channel timing) into a single record that is
// loaded once at startup and then shared across goroutines as a read-only
// value.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvCacheDir is the environment variable consulted when no explicit
// --cache-dir flag is given.
const EnvCacheDir = "GCHAT_CACHE_DIR"

// Config holds all tunable parameters for the client and gateway.
// The struct is designed to be loaded once at startup and then shared across
// goroutines as a read-only value, making it inherently thread-safe after
// initialization.
type Config struct {
	// Browser selects the cookie source: "chrome", "brave", "edge",
	// "chromium", or "arc".
	Browser string `json:"browser"`

	// Profile is the browser profile directory name (e.g. "Default",
	// "Profile 1"). Empty selects "Default".
	Profile string `json:"profile"`

	// CookieFile, when non-empty, bypasses browser discovery and reads the
	// cookie store at this path directly. The file may be an encrypted
	// Chromium store or a plaintext one.
	CookieFile string `json:"cookie_file"`

	// CacheDir is where cached_auth.json and other persisted state live.
	// Resolution order: explicit flag > $GCHAT_CACHE_DIR > ~/.gchat.
	CacheDir string `json:"cache_dir"`

	// GatewayAddr is the listen address of the local REST+WebSocket server
	// (e.g. ":8008").
	GatewayAddr string `json:"gateway_addr"`

	// RequestTimeout is the end-to-end timeout for a single upstream HTTP
	// request, including TLS handshake and reading the full response.
	RequestTimeout time.Duration `json:"request_timeout"`

	// PageSize is the default number of topics requested per list_topics
	// page. The upstream caps this at 500.
	PageSize int `json:"page_size"`

	// MaxPages bounds how many upstream pages a single thread-listing
	// request may walk before answering; clients continue via the returned
	// cursors.
	MaxPages int `json:"max_pages"`

	// ExpandParallelism is the number of concurrent list_messages calls the
	// thread expander issues when filling in truncated reply lists.
	ExpandParallelism int `json:"expand_parallelism"`

	// KeepaliveInterval is how often the streaming channel sends a ping to
	// keep the long-poll session alive.
	KeepaliveInterval time.Duration `json:"keepalive_interval"`

	// PresenceSharedTimeout is the server-side timeout requested when
	// refreshing the "presence shared" flag during the stay-online workflow.
	PresenceSharedTimeout time.Duration `json:"presence_shared_timeout"`

	// AuthWatchInterval is how often the background auth watcher forces a
	// full re-authentication. Zero disables the watcher.
	AuthWatchInterval time.Duration `json:"auth_watch_interval"`

	// MarkReadSpacing is the minimum delay between successive mark-as-read
	// RPCs dispatched by the gateway queue.
	MarkReadSpacing time.Duration `json:"mark_read_spacing"`

	// Debug enables debug-level logging.
	Debug bool `json:"debug"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a Config.
// It returns an error if the file cannot be opened or if the JSON is
// malformed. Defaults are applied to any field the file leaves at its zero
// value.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a *Config pre-filled with sensible defaults. Each
// call returns a fresh independent copy; callers are free to mutate it before
// passing it to other components.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills any zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.Browser == "" {
		c.Browser = "chrome"
	}
	if c.Profile == "" {
		c.Profile = "Default"
	}
	if c.GatewayAddr == "" {
		c.GatewayAddr = ":8008"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PageSize == 0 {
		c.PageSize = 100
	}
	if c.PageSize > 500 {
		c.PageSize = 500
	}
	if c.MaxPages == 0 {
		c.MaxPages = 1
	}
	if c.ExpandParallelism == 0 {
		c.ExpandParallelism = 5
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.PresenceSharedTimeout == 0 {
		c.PresenceSharedTimeout = 120 * time.Second
	}
	if c.MarkReadSpacing == 0 {
		c.MarkReadSpacing = 100 * time.Millisecond
	}
}

// ResolveCacheDir resolves the cache directory using the documented
// precedence: the explicit argument (typically from a --cache-dir flag), then
// $GCHAT_CACHE_DIR, then ~/.gchat. The directory is created if missing.
func ResolveCacheDir(explicit string) (string, error) {
	dir := explicit
	if dir == "" {
		dir = os.Getenv(EnvCacheDir)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".gchat")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create cache dir %q: %w", dir, err)
	}
	return dir, nil
}
