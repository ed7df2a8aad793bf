// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxSyncBackoff caps the retry delay after repeated sync failures.
const maxSyncBackoff = 60 * time.Second

// syncNetworkGrace is added to the long-poll timeout when deriving the
// per-request network deadline, so a healthy long poll that runs the
// full server-side timeout is not killed by its own context.
const syncNetworkGrace = 5 * time.Second

// SyncConfig controls the sync loop started by StartSync.
type SyncConfig struct {
	// Timeout is the server-side long-poll duration. Zero means 30
	// seconds.
	Timeout time.Duration

	// FullState requests full room state on the next poll instead of a
	// delta.
	FullState bool

	// SetPresence is the presence hint sent with each poll ("offline",
	// "online", "unavailable"). Empty omits the parameter.
	SetPresence string

	// Filter is a server-side filter ID or inline JSON filter applied
	// to every poll.
	Filter string
}

// CategoryHandler processes one top-level sync category (presence,
// account_data, to_device, device_lists) as raw JSON. Handlers run on
// the sync goroutine after the room sections are applied; they must
// not block.
type CategoryHandler func(session *Session, raw json.RawMessage)

// HandleCategory registers a handler for a top-level sync category by
// its JSON key ("presence", "account_data", "to_device",
// "device_lists"). Registering for a key again replaces the previous
// handler. Categories without a handler are skipped; the room
// sections are always processed by the built-in room logic and cannot
// be overridden here.
func (s *Session) HandleCategory(category string, handler CategoryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[category] = handler
}

// Sync performs a single /sync request. Most callers want StartSync;
// this is the raw endpoint for tests and one-shot use.
func (s *Session) Sync(ctx context.Context, opts SyncOptions) (*SyncResponse, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if opts.Since != "" {
		query.Set("since", opts.Since)
	}
	if opts.SetTimeout {
		query.Set("timeout", strconv.Itoa(opts.Timeout))
	}
	if opts.FullState {
		query.Set("full_state", "true")
	}
	if opts.SetPresence != "" {
		query.Set("set_presence", opts.SetPresence)
	}
	if opts.Filter != "" {
		query.Set("filter", opts.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", token, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// StartSync launches the long-poll sync loop on its own goroutine.
// Returns ErrNotAuthenticated if the session has no credential, an
// error if a loop is already running or was permanently stopped, and
// nil once the loop is going. The loop runs until StopSync or until
// ctx is cancelled.
//
// At most one poll is in flight per session, so responses apply in the
// order they were issued.
func (s *Session) StartSync(ctx context.Context, config SyncConfig) error {
	if _, err := s.token(); err != nil {
		return err
	}
	if s.disconnected.Load() {
		return fmt.Errorf("messaging: session was disconnected; create a new session to sync again")
	}
	if !s.syncRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("messaging: sync loop already running")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.pollCancel = cancel
	s.syncDone = done
	s.mu.Unlock()

	go s.syncLoop(ctx, config, done)
	return nil
}

// StopSync halts the sync loop permanently: the in-flight poll is
// cancelled and its response, if any, is discarded. Blocks until the
// loop goroutine exits. Idempotent; a stopped session cannot sync
// again.
func (s *Session) StopSync() {
	s.disconnected.Store(true)

	s.mu.Lock()
	cancel := s.pollCancel
	done := s.syncDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// syncLoop is the body of the sync goroutine. Success advances the
// cursor, resets backoff, and re-polls immediately. Failure waits the
// current backoff, then doubles it: 0, 2s, 4s, ... capped at 60s.
func (s *Session) syncLoop(ctx context.Context, config SyncConfig, done chan struct{}) {
	defer close(done)
	defer s.syncRunning.Store(false)

	var backoff time.Duration

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.RLock()
		since := s.nextBatch
		initial := s.initialSync
		s.mu.RUnlock()

		opts := SyncOptions{
			Since:       since,
			SetTimeout:  true,
			SetPresence: config.SetPresence,
			Filter:      config.Filter,
		}
		if initial || config.FullState {
			opts.FullState = true
		}
		if since == "" {
			// The initial sync returns immediately with current state;
			// long polling only makes sense with a cursor.
			opts.Timeout = 0
		} else {
			opts.Timeout = int(config.Timeout / time.Millisecond)
		}

		// The network deadline exceeds the long-poll timeout so the
		// server, not the client, ends a healthy quiet poll.
		pollCtx, cancelPoll := context.WithTimeout(ctx, config.Timeout+syncNetworkGrace)
		response, err := s.Sync(pollCtx, opts)
		cancelPoll()

		if ctx.Err() != nil {
			// Stopped while the poll was in flight; discard whatever
			// came back.
			return
		}

		if err != nil {
			if !IsTransientError(err) {
				s.client.logger.Error("sync failed permanently", "error", err)
				s.disconnected.Store(true)
				return
			}
			s.client.logger.Warn("sync failed, will retry",
				"error", err,
				"backoff", backoff,
			)
			if backoff > 0 {
				select {
				case <-ctx.Done():
					return
				case <-s.client.clock.After(backoff):
				}
			}
			if backoff == 0 {
				backoff = 2 * time.Second
			} else {
				backoff = min(2*backoff, maxSyncBackoff)
			}
			s.client.CloseIdleConnections()
			continue
		}

		backoff = 0
		s.processSyncResponse(response)

		s.mu.Lock()
		s.nextBatch = response.NextBatch
		s.initialSync = false
		s.mu.Unlock()
	}
}

// processSyncResponse applies one sync response: joined, invited, and
// left room sections first, then the registered category handlers.
// Runs on the sync goroutine, so responses apply strictly in issue
// order.
func (s *Session) processSyncResponse(response *SyncResponse) {
	for roomID, delta := range response.Rooms.Join {
		room := s.roomOrCreate(roomID)
		room.applyJoinedDelta(&delta, response.NextBatch)
	}
	for roomID, delta := range response.Rooms.Invite {
		room := s.roomOrCreate(roomID)
		room.applyInviteState(&delta)
	}
	for roomID, delta := range response.Rooms.Leave {
		room := s.Room(roomID)
		if room != nil {
			room.applyLeftDelta(&delta)
		}
		s.removeRoom(roomID)
	}

	s.dispatchCategory("presence", response.Presence)
	s.dispatchCategory("account_data", response.AccountData)
	s.dispatchCategory("to_device", response.ToDevice)
	s.dispatchCategory("device_lists", response.DeviceLists)
}

// dispatchCategory re-marshals a decoded category section and hands it
// to its registered handler, if any.
func (s *Session) dispatchCategory(category string, section any) {
	s.mu.RLock()
	handler := s.categories[category]
	s.mu.RUnlock()
	if handler == nil {
		s.client.logger.Debug("unhandled sync category", "category", category)
		return
	}
	raw, err := json.Marshal(section)
	if err != nil {
		s.client.logger.Error("failed to re-encode sync category",
			"category", category,
			"error", err,
		)
		return
	}
	handler(s, raw)
}
