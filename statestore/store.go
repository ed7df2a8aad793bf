// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package statestore persists session credentials, the sync resumption
// cursor, and per-room snapshots in SQLite, so a client process can
// resume an incremental sync across restarts instead of replaying the
// initial sync.
//
// The sync engine itself keeps no durable state; a collaborator (the
// lattice-tail command, for example) saves through this package on
// shutdown and restores on startup. Room snapshots are CBOR blobs:
// they carry nested untyped event content that a relational mapping
// would flatten badly.
package statestore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/lattice-im/lattice/lib/clock"
	"github.com/lattice-im/lattice/lib/codec"
	"github.com/lattice-im/lattice/lib/ref"
	"github.com/lattice-im/lattice/lib/sqlitepool"
	"github.com/lattice-im/lattice/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	user_id      TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	access_token TEXT NOT NULL,
	next_batch   TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_snapshots (
	room_id    TEXT PRIMARY KEY,
	snapshot   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SessionState is the persisted identity of one authenticated session.
type SessionState struct {
	UserID      ref.UserID
	DeviceID    string
	AccessToken string
	NextBatch   string
}

// RoomSnapshot is the durable subset of a Room: display metadata,
// membership, pagination cursors, and the accumulated timeline. Stored
// as one CBOR blob per room.
type RoomSnapshot struct {
	RoomID        ref.RoomID                      `json:"room_id"`
	Name          string                          `json:"name,omitempty"`
	Topic         string                          `json:"topic,omitempty"`
	Membership    string                          `json:"membership,omitempty"`
	Members       map[ref.UserID]messaging.Member `json:"members,omitempty"`
	Timeline      []messaging.Event               `json:"timeline,omitempty"`
	PrevBatch     string                          `json:"prev_batch,omitempty"`
	FullSyncToken string                          `json:"full_sync_token,omitempty"`
}

// SnapshotRoom captures the durable state of a live room.
func SnapshotRoom(room *messaging.Room) RoomSnapshot {
	return RoomSnapshot{
		RoomID:        room.ID(),
		Name:          room.Name(),
		Topic:         room.Topic(),
		Membership:    room.Membership(),
		Members:       room.Members(),
		Timeline:      room.Timeline(),
		PrevBatch:     room.PrevBatch(),
		FullSyncToken: room.FullSyncToken(),
	}
}

// Config holds the parameters for opening a state store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 2 if zero or negative; the store's access pattern is a handful
	// of queries at startup and shutdown.
	PoolSize int

	// Clock provides timestamps for the updated_at columns. Nil means
	// the system clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store persists sync engine state in SQLite.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates or opens the state database at cfg.Path and applies the
// schema.
func Open(cfg Config) (*Store, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: %w", err)
	}

	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// SaveSession upserts the singleton session row.
func (s *Store) SaveSession(ctx context.Context, state SessionState) error {
	if state.UserID.IsZero() {
		return fmt.Errorf("statestore: session state has no user id")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: save session: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO session (id, user_id, device_id, access_token, next_batch, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   user_id = excluded.user_id,
		   device_id = excluded.device_id,
		   access_token = excluded.access_token,
		   next_batch = excluded.next_batch,
		   updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				state.UserID.String(),
				state.DeviceID,
				state.AccessToken,
				state.NextBatch,
				s.clock.Now().UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("statestore: save session: %w", err)
	}
	return nil
}

// LoadSession reads the persisted session, reporting false when none
// has been saved.
func (s *Store) LoadSession(ctx context.Context) (SessionState, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return SessionState{}, false, fmt.Errorf("statestore: load session: %w", err)
	}
	defer s.pool.Put(conn)

	var state SessionState
	found := false
	err = sqlitex.Execute(conn,
		`SELECT user_id, device_id, access_token, next_batch FROM session WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				userID, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored user id: %w", err)
				}
				state = SessionState{
					UserID:      userID,
					DeviceID:    stmt.ColumnText(1),
					AccessToken: stmt.ColumnText(2),
					NextBatch:   stmt.ColumnText(3),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return SessionState{}, false, fmt.Errorf("statestore: load session: %w", err)
	}
	return state, found, nil
}

// SaveNextBatch updates only the resumption cursor of the persisted
// session. Reports an error when no session row exists yet.
func (s *Store) SaveNextBatch(ctx context.Context, nextBatch string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: save cursor: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE session SET next_batch = ?, updated_at = ? WHERE id = 1`,
		&sqlitex.ExecOptions{
			Args: []any{nextBatch, s.clock.Now().UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("statestore: save cursor: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("statestore: no session saved; call SaveSession first")
	}
	return nil
}

// DeleteSession removes the persisted session and all room snapshots,
// for logout.
func (s *Store) DeleteSession(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: delete session: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("statestore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, `DELETE FROM session`, nil); err != nil {
		return fmt.Errorf("statestore: delete session: %w", err)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM room_snapshots`, nil); err != nil {
		return fmt.Errorf("statestore: delete room snapshots: %w", err)
	}
	return nil
}

// SaveRoomSnapshots upserts a snapshot blob per room in one
// transaction.
func (s *Store) SaveRoomSnapshots(ctx context.Context, snapshots []RoomSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: save rooms: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("statestore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := s.clock.Now().UnixNano()
	for i := range snapshots {
		blob, err := codec.Marshal(&snapshots[i])
		if err != nil {
			return fmt.Errorf("statestore: encode room %s: %w", snapshots[i].RoomID, err)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO room_snapshots (room_id, snapshot, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (room_id) DO UPDATE SET
			   snapshot = excluded.snapshot,
			   updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{snapshots[i].RoomID.String(), blob, now},
			})
		if err != nil {
			return fmt.Errorf("statestore: save room %s: %w", snapshots[i].RoomID, err)
		}
	}
	return nil
}

// LoadRoomSnapshots reads all persisted room snapshots.
func (s *Store) LoadRoomSnapshots(ctx context.Context) ([]RoomSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statestore: load rooms: %w", err)
	}
	defer s.pool.Put(conn)

	var snapshots []RoomSnapshot
	err = sqlitex.Execute(conn,
		`SELECT snapshot FROM room_snapshots ORDER BY room_id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				var snapshot RoomSnapshot
				if err := codec.Unmarshal(blob, &snapshot); err != nil {
					return fmt.Errorf("decode snapshot: %w", err)
				}
				snapshots = append(snapshots, snapshot)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("statestore: load rooms: %w", err)
	}
	return snapshots, nil
}

// DeleteRoomSnapshot removes the snapshot for one room, for rooms the
// user has left.
func (s *Store) DeleteRoomSnapshot(ctx context.Context, roomID ref.RoomID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: delete room: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM room_snapshots WHERE room_id = ?`,
		&sqlitex.ExecOptions{Args: []any{roomID.String()}})
	if err != nil {
		return fmt.Errorf("statestore: delete room %s: %w", roomID, err)
	}
	return nil
}
