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

	"github.com/lattice-im/lattice/lib/ref"
)

// defaultHistoryLimit is the page size for a single backfill fetch.
const defaultHistoryLimit = 10

// RoomMessages calls the raw history endpoint for a room. Most callers
// want FetchHistory, which also folds the result into the room's
// timeline.
func (s *Session) RoomMessages(ctx context.Context, roomID ref.RoomID, opts RoomMessagesOptions) (*RoomMessagesResponse, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if opts.From != "" {
		query.Set("from", opts.From)
	}
	if opts.To != "" {
		query.Set("to", opts.To)
	}
	direction := opts.Direction
	if direction == "" {
		direction = "b"
	}
	query.Set("dir", direction)
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/messages"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, token, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: history fetch failed: %w", err)
	}

	var response RoomMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse history response: %w", err)
	}
	return &response, nil
}

// FetchHistory fetches older events backward from the room's
// pagination token toward its full-sync cursor and folds them into the
// timeline, same newest-first ordering as live events. The pagination
// token advances to the response's end token, and the full-sync cursor
// is cleared: one page may not close the gap, and the history endpoint
// gives no reliable signal that it did, so the room is conservatively
// marked not-fully-synced until an unlimited live delta proves
// continuity again. Failures surface to the caller and are not
// retried.
//
// A limit of zero uses the default page size of 10.
func (s *Session) FetchHistory(ctx context.Context, room *Room, limit int) error {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	room.mu.RLock()
	from := room.prevBatch
	to := room.fullSyncToken
	room.mu.RUnlock()

	if from == "" {
		return fmt.Errorf("messaging: room %s has no pagination token to fetch from", room.ID())
	}

	response, err := s.RoomMessages(ctx, room.ID(), RoomMessagesOptions{
		From:      from,
		To:        to,
		Direction: "b",
		Limit:     limit,
	})
	if err != nil {
		return err
	}

	room.mu.Lock()
	for _, event := range response.Chunk {
		room.timeline.Push(event)
		room.routeEvent(event)
	}
	if response.End != "" {
		room.prevBatch = response.End
	}
	room.fullSyncToken = ""
	room.mu.Unlock()
	room.flushNotifications()

	s.client.logger.Debug("backfilled history",
		"room_id", room.ID(),
		"events", len(response.Chunk),
		"from", from,
		"end", response.End,
	)
	return nil
}
