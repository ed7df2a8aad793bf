// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the Lattice client-side sync engine for
// the Matrix client-server API.
//
// The package is organized around a small set of collaborating pieces:
//
//   - [Client] is the unauthenticated HTTP transport: homeserver URL,
//     HTTP client, logger. All request plumbing lives here.
//   - [Session] holds authentication state (access token in an
//     mmap-backed secret.Buffer), the outgoing transaction counter,
//     and the set of known rooms. Every authenticated request goes
//     through a Session.
//   - The sync engine ([Session.StartSync]) drives the /sync long-poll
//     loop: one goroutine per session, responses applied strictly in
//     issue order, exponential backoff on failure, immediate re-poll
//     on success.
//   - [Room] accumulates membership, state, and timeline from sync
//     deltas. Timelines are append-only logs with a drain cursor;
//     consumers read new events with [Room.DrainTimeline].
//   - The event router dispatches each event by its type string to a
//     registered handler. Unknown types are logged at Debug and
//     skipped, never fatal.
//   - [Session.Send] allocates a monotonically increasing transaction
//     id and issues an idempotent PUT; resending with the same id
//     cannot duplicate the message server-side.
//   - [Session.FetchHistory] backfills a gap after the server returns
//     a limited timeline.
//
// Error taxonomy: server error payloads decode to [*MatrixError]
// carrying the Matrix errcode and HTTP status; transport failures
// surface as wrapped plain errors. [IsTransientError] classifies
// 429/5xx and connection errors as retryable and other 4xx as
// permanent. Starting sync without a credential is an invariant
// violation and fails immediately, never retried.
package messaging
