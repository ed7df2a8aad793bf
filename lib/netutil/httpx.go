// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the Lattice
// client stack.
//
// Every JSON response body read goes through ReadResponse, which caps
// the read at MaxResponseSize so a misbehaving homeserver cannot make
// the client allocate without bound. Streaming and media downloads
// bypass this helper and read incrementally.
package netutil

import "io"

// MaxResponseSize bounds JSON API response body reads at 256 MB. A
// legitimate /sync or /messages response is orders of magnitude
// smaller; the cap only matters for a pathological server.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a JSON API response body, up to MaxResponseSize
// bytes. Use instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
