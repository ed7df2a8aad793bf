// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Lattice's standard CBOR encoding configuration.
//
// Lattice speaks two serialization formats with a clear boundary:
//
//   - JSON for the wire: the Matrix Client-Server API is JSON, so every
//     request and response body uses encoding/json.
//   - CBOR for local state: session checkpoints and room snapshots in
//     the state store are CBOR, encoded deterministically so the same
//     logical state always produces identical bytes.
//
// This package holds the shared encoding and decoding modes so every
// Lattice package that touches the state store encodes identically.
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
// Buffer-oriented use:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: the type is only ever stored as CBOR (state store
//     records that never cross the wire).
//   - `json` tag: the type serves both formats. fxamacker/cbor v2
//     falls back to `json` tags when `cbor` tags are absent, so one
//     tag controls field naming and omitempty for both. Room snapshot
//     types reuse the wire types this way.
//
// Never put both `cbor` and `json` tags on the same field; the tag
// choice documents which contract the type participates in.
package codec
