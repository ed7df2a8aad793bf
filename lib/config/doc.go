// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Lattice
// commands.
//
// Configuration comes from a single file named by either the
// LATTICE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search; a command reads exactly the file it was pointed at.
//
// Variable expansion runs on path fields after loading: ${HOME},
// ${LATTICE_ROOT}, and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- homeserver, identity, sync, and path settings
//   - [Default] -- a Config with development defaults
//   - [Load] and [LoadFile] -- the two loading entry points
//
// This package depends on no other Lattice packages.
package config
