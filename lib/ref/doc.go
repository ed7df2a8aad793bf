// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for the Matrix identifiers Lattice works with: user IDs, room IDs,
// room aliases, event IDs, event types, and server names.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Once constructed, a ref is immutable; the zero value of
// every struct type is "unset" and reports true from IsZero.
//
// Identifiers arrive from three places: caller input (parsed and, for
// user IDs, normalized at the boundary via NormalizeUserID), Matrix API
// responses (parsed during JSON decoding via encoding.TextUnmarshaler),
// and configuration. Lattice code never builds identifier strings by
// hand past the boundary.
package ref
