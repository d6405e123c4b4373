// Package config loads the orchestrator's process-level bootstrap
// configuration: socket paths, the persistent-store backend selection,
// and tunnel credentials. Grounded on the teacher's
// store.SettingsData/FileStore.writeJSON pattern, hardened with the
// same write-temp/fsync/rename atomicity as internal/store/filestore.go
// per spec.md §4.2's crash-atomicity requirement — the teacher's plain
// os.WriteFile is not durable enough for a config file that Save
// rewrites in place.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// Config is a flat, implementation-defined string map per spec.md §6.3,
// with a handful of well-known keys the daemon reads at startup.
type Config struct {
	path string
	data map[string]string
}

const (
	KeySocketPath      = "control_socket_path"
	KeyAdminAddr       = "admin_listen_addr"
	KeyPSBackend       = "ps_backend" // "file" or "postgres"
	KeyPSPath          = "ps_dir"
	KeyDatabaseURL     = "database_url"
	KeyServiceRoster   = "service_roster_path"
	KeyTunnelProvider  = "tunnel_provider" // "cloudflare", "ngrok", "none"
	KeyNgrokAuthToken  = "ngrok_auth_token"
	KeyCloudflareToken = "cloudflare_tunnel_token"
	KeyLogLevel        = "log_level"
)

// Defaults mirrors spec.md §4.6's default socket path and a sensible
// file-backed store so the daemon runs with zero configuration.
func Defaults() map[string]string {
	return map[string]string{
		KeySocketPath:     "/data/clara/orchestrator.sock",
		KeyAdminAddr:      "127.0.0.1:8787",
		KeyPSBackend:      "file",
		KeyPSPath:         "/data/clara/store",
		KeyServiceRoster:  "/data/clara/services.yaml",
		KeyTunnelProvider: "none",
		KeyLogLevel:       "info",
	}
}

// Load reads path if it exists, falling back to Defaults for any key
// it doesn't set. A missing file is not an error — the daemon must be
// able to boot from defaults alone.
func Load(path string) (*Config, error) {
	c := &Config{path: path, data: Defaults()}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "Load", "read config", err)
	}

	var onDisk map[string]string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, clara.WrapError(clara.KindInternal, "Load", "parse config", err)
	}
	for k, v := range onDisk {
		c.data[k] = v
	}
	return c, nil
}

func (c *Config) Get(key string) string { return c.data[key] }

func (c *Config) GetAll() map[string]string {
	out := make(map[string]string, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Set updates key in memory only. Call Save to persist.
func (c *Config) Set(key, value string) {
	c.data[key] = value
}

// Save atomically replaces the on-disk config file: write to a
// sibling temp file, fsync, rename over the target — the same
// crash-atomic sequence as internal/store/filestore.go's
// writeJSONAtomic.
func (c *Config) Save() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return clara.WrapError(clara.KindInternal, "Save", "marshal config", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return clara.WrapError(clara.KindInternal, "Save", "mkdir config dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return clara.WrapError(clara.KindInternal, "Save", "create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return clara.WrapError(clara.KindInternal, "Save", "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return clara.WrapError(clara.KindInternal, "Save", "fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return clara.WrapError(clara.KindInternal, "Save", "close temp file", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return clara.WrapError(clara.KindInternal, "Save", "rename temp file", err)
	}
	return nil
}
