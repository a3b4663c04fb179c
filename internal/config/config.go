// Package config loads and saves Proxide's on-disk YAML configuration and
// installs or removes the CA in the OS trust store.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/proxide/proxide/internal/perr"
)

// Config is Proxide's YAML configuration file, for settings that are
// awkward to repeat as flags on every invocation (CA store location,
// default listen address, default direct-mode target).
type Config struct {
	// ListenAddr is a listen address stored in the file. "proxide
	// monitor" and "proxide capture" do not read it: they take their port
	// only from the required --listen flag.
	ListenAddr string `yaml:"listen_addr"`

	// CADir overrides the CA's on-disk store path; empty uses the CA
	// package's own per-user default.
	CADir string `yaml:"ca_dir"`

	// DirectTarget is a direct-mode host:port stored in the file.
	// cmd/proxide does not read it: the direct-mode target comes only
	// from the -t flag, and without -t the proxy runs in CONNECT mode.
	DirectTarget string `yaml:"direct_target,omitempty"`

	// UpstreamTLS is an upstream-transport override stored in the file.
	// cmd/proxide does not read it: accept.Config.UpstreamTLS is left nil,
	// so the upstream leg always mirrors the downstream leg's transport.
	UpstreamTLS *bool `yaml:"upstream_tls,omitempty"`
}

// Load reads and parses a YAML config file. A missing file is not an
// error -- callers get a zero Config and fall back to flag defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, perr.New(perr.ConfigError, fmt.Sprintf("read %s", path), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, perr.New(perr.ConfigError, fmt.Sprintf("parse %s", path), err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating or truncating the file.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return perr.New(perr.ConfigError, "marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return perr.New(perr.ConfigError, fmt.Sprintf("write %s", path), err)
	}
	return nil
}
