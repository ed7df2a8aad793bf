// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.com
  server_name: example.com
identity:
  user: alice
  password_file: /etc/lattice/password
sync:
  poll_timeout: 45s
paths:
  root: /var/lib/lattice
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Homeserver.URL != "https://matrix.example.com" {
		t.Errorf("Homeserver.URL = %q", cfg.Homeserver.URL)
	}
	if cfg.Identity.User != "alice" {
		t.Errorf("Identity.User = %q", cfg.Identity.User)
	}
	if cfg.Sync.PollTimeout != 45*time.Second {
		t.Errorf("Sync.PollTimeout = %v, want 45s", cfg.Sync.PollTimeout)
	}
	if cfg.Paths.Root != "/var/lib/lattice" {
		t.Errorf("Paths.Root = %q", cfg.Paths.Root)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.com
identity:
  user: "@alice:example.com"
  token_file: /run/lattice/token
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Identity.DeviceName != "lattice" {
		t.Errorf("DeviceName = %q, want default %q", cfg.Identity.DeviceName, "lattice")
	}
	if cfg.Sync.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout = %v, want default 30s", cfg.Sync.PollTimeout)
	}
	if cfg.Paths.StateDB == "" {
		t.Error("StateDB default is empty")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("LATTICE_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without LATTICE_CONFIG succeeded, want error")
	}
}

func TestLoadUsesEnvVar(t *testing.T) {
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.com
identity:
  user: alice
  password_file: /tmp/pw
`)
	t.Setenv("LATTICE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Homeserver.URL != "https://matrix.example.com" {
		t.Errorf("Homeserver.URL = %q", cfg.Homeserver.URL)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.com
identity:
  user: alice
  password_file: ${HOME}/.lattice/password
paths:
  root: ${HOME}/.cache/lattice
  state_db: ${LATTICE_ROOT}/state.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Paths.Root != "/home/alice/.cache/lattice" {
		t.Errorf("Paths.Root = %q", cfg.Paths.Root)
	}
	if cfg.Paths.StateDB != "/home/alice/.cache/lattice/state.db" {
		t.Errorf("Paths.StateDB = %q", cfg.Paths.StateDB)
	}
	if cfg.Identity.PasswordFile != "/home/alice/.lattice/password" {
		t.Errorf("Identity.PasswordFile = %q", cfg.Identity.PasswordFile)
	}
}

func TestValidateErrors(t *testing.T) {
	cfg := Default()
	// Missing URL, user, and credentials.
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate of empty config succeeded, want error")
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lattice")
	cfg := Default()
	cfg.Paths.Root = root
	cfg.Paths.StateDB = filepath.Join(root, "db", "state.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{root, filepath.Join(root, "db")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s): %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
