// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Lattice command.
type Config struct {
	// Homeserver configures the Matrix homeserver connection.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Identity configures the account the client acts as.
	Identity IdentityConfig `yaml:"identity"`

	// Sync configures the long-poll sync loop.
	Sync SyncConfig `yaml:"sync"`

	// Paths configures local storage locations.
	Paths PathsConfig `yaml:"paths"`
}

// HomeserverConfig configures the homeserver connection.
type HomeserverConfig struct {
	// URL is the base client-server API URL, e.g.
	// "https://matrix.example.com". Required.
	URL string `yaml:"url"`

	// ServerName is the Matrix server name used to qualify loose user
	// identities ("alice" becomes "@alice:<server_name>"). Defaults to
	// the host portion of URL when empty.
	ServerName string `yaml:"server_name"`
}

// IdentityConfig configures the account the client logs in as.
type IdentityConfig struct {
	// User is the account identity. Accepts a full Matrix user ID
	// ("@alice:example.com") or a bare localpart ("alice"), which is
	// qualified with the homeserver's server name.
	User string `yaml:"user"`

	// DeviceName is the display name registered for this device on
	// login. Default: "lattice".
	DeviceName string `yaml:"device_name"`

	// PasswordFile is a path to a file holding the account password,
	// or "-" to read it from stdin. Used when TokenFile is empty.
	PasswordFile string `yaml:"password_file"`

	// TokenFile is a path to a file holding an existing access token.
	// When set, the client resumes the session instead of logging in.
	TokenFile string `yaml:"token_file"`
}

// SyncConfig configures the long-poll sync loop.
type SyncConfig struct {
	// PollTimeout is how long the homeserver holds each /sync request
	// open waiting for new events. Default: 30s.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// Filter is an optional server-side filter ID or inline filter
	// JSON applied to every /sync request.
	Filter string `yaml:"filter"`
}

// PathsConfig configures local storage locations.
type PathsConfig struct {
	// Root is the base directory for Lattice data.
	Root string `yaml:"root"`

	// StateDB is the SQLite database holding session checkpoints and
	// room snapshots. Default: <root>/state.db.
	StateDB string `yaml:"state_db"`
}

// Default returns the default configuration. The defaults give every
// field a sensible zero value; the config file is still required for
// the homeserver URL and identity.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "lattice")

	return &Config{
		Identity: IdentityConfig{
			DeviceName: "lattice",
		},
		Sync: SyncConfig{
			PollTimeout: 30 * time.Second,
		},
		Paths: PathsConfig{
			Root:    defaultRoot,
			StateDB: filepath.Join(defaultRoot, "state.db"),
		},
	}
}

// Load loads configuration from the file named by the LATTICE_CONFIG
// environment variable. Fails if the variable is not set; there are no
// fallback locations.
func Load() (*Config, error) {
	configPath := os.Getenv("LATTICE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LATTICE_CONFIG environment variable not set; " +
			"set it to the path of your lattice.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables never override its
// values. The only expansion performed is ${HOME} and similar path
// variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LATTICE_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["LATTICE_ROOT"] = c.Paths.Root // dependent paths see the expanded root

	c.Paths.StateDB = expandVars(c.Paths.StateDB, vars)
	c.Identity.PasswordFile = expandVars(c.Identity.PasswordFile, vars)
	c.Identity.TokenFile = expandVars(c.Identity.TokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	}
	if c.Identity.User == "" {
		errs = append(errs, fmt.Errorf("identity.user is required"))
	}
	if c.Identity.PasswordFile == "" && c.Identity.TokenFile == "" {
		errs = append(errs, fmt.Errorf("one of identity.password_file or identity.token_file is required"))
	}
	if c.Sync.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.poll_timeout must be positive"))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.StateDB),
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
