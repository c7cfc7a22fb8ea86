package store

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/charliemeyer2000/rv/rverr"
)

// Config is ~/.rv/config.toml.
type Config struct {
	Connection    ConnectionConfig  `toml:"connection"`
	Defaults      DefaultsConfig    `toml:"defaults"`
	Paths         PathsConfig       `toml:"paths"`
	Notifications NotifyConfig      `toml:"notifications"`
	SharedCaches  map[string]string `toml:"shared_caches,omitempty"` // name -> remote path, e.g. "hf" -> group cache
}

type ConnectionConfig struct {
	HostAlias string `toml:"host_alias"` // ssh alias the executor dials
	User      string `toml:"user"`
	Hostname  string `toml:"hostname"`
}

type DefaultsConfig struct {
	Account   string `toml:"account"`
	GPUType   string `toml:"gpu_type,omitempty"`
	Time      string `toml:"time"`
	Partition string `toml:"partition,omitempty"`
	AINaming  bool   `toml:"ai_naming,omitempty"` // generate a memorable job name when none given
}

type PathsConfig struct {
	Scratch string `toml:"scratch"`
	Home    string `toml:"home"`
}

type NotifyConfig struct {
	Enabled  bool   `toml:"enabled"`
	Email    string `toml:"email,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
	// Token is a secret shared with the notification receiver, not a
	// per-user credential. It is embedded into synthesized batch scripts.
	Token string `toml:"token,omitempty"`
}

// ConfigPath returns the config.toml location.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadConfig reads the config. A missing file is a NotInitialized error so
// commands can point the user at setup; a malformed file is a Config error.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, rverr.New(rverr.KindNotInitialized, "store.config", "no config at %s; run `rv init` first", path)
	}
	if err != nil {
		return nil, rverr.Wrap(rverr.KindConfig, "store.config", err, "reading %s", path)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, rverr.Wrap(rverr.KindConfig, "store.config", err, "parsing %s", path)
	}
	if cfg.Connection.HostAlias == "" || cfg.Connection.User == "" {
		return nil, rverr.New(rverr.KindConfig, "store.config", "config %s missing connection.host_alias or connection.user", path)
	}
	return &cfg, nil
}

// SaveConfig writes the config atomically with 0600.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return rverr.Wrap(rverr.KindConfig, "store.config", err, "encoding config")
	}
	return WriteFileAtomic(path, buf.Bytes(), 0o600)
}
