// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides Lattice's standard SQLite connection pool.
//
// The state store keeps session checkpoints and room snapshots in a
// local SQLite database. This package wraps zombiezen.com/go/sqlite
// with the defaults that database needs: WAL journal mode, NORMAL
// synchronous, memory-mapped reads, and a busy timeout for write
// contention.
//
// Callers [Pool.Take] a connection, do their work, and [Pool.Put] it
// back. Connections are not safe for concurrent use; each goroutine
// holds its own for the duration of its work.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: concurrent readers alongside a single writer.
//   - synchronous=NORMAL: state survives a process crash. An OS crash
//     can lose the last transactions, which is acceptable here because
//     the homeserver is the source of truth and the client re-syncs.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of failing with SQLITE_BUSY.
//   - foreign_keys=OFF: the state store manages referential integrity
//     itself.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped reads.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/lattice/state.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
// The package is deliberately thin: standard pragmas plus the
// underlying zombiezen types, no query builder and no transaction
// abstraction. Callers write SQL against sqlitex directly.
package sqlitepool
