// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lattice-im/lattice/lib/ref"
)

// CreateRoom creates a room and registers it with the session. The
// room also arrives through the next sync delta; creating it eagerly
// here lets the caller send into it immediately.
func (s *Session) CreateRoom(ctx context.Context, request CreateRoomRequest) (*Room, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}

	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", token, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: room creation failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room creation response: %w", err)
	}

	s.client.logger.Info("created room", "room_id", response.RoomID, "name", request.Name)
	return s.roomOrCreate(response.RoomID), nil
}

// JoinRoom joins a room by id or alias. State and timeline arrive
// through subsequent sync deltas.
func (s *Session) JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	token, err := s.token()
	if err != nil {
		return ref.RoomID{}, err
	}

	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	body, err := s.client.doRequest(ctx, http.MethodPost, path, token, map[string]any{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: joining %s failed: %w", roomIDOrAlias, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	s.roomOrCreate(response.RoomID)
	return response.RoomID, nil
}

// LeaveRoom leaves a room and drops it from the session's collection.
func (s *Session) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	token, err := s.token()
	if err != nil {
		return err
	}

	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/leave"
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, token, map[string]any{}); err != nil {
		return fmt.Errorf("messaging: leaving %s failed: %w", roomID, err)
	}
	s.removeRoom(roomID)
	return nil
}

// ForgetRoom forgets a previously left room, releasing its history
// server-side. The room must already be left.
func (s *Session) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	token, err := s.token()
	if err != nil {
		return err
	}

	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/forget"
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, token, map[string]any{}); err != nil {
		return fmt.Errorf("messaging: forgetting %s failed: %w", roomID, err)
	}
	return nil
}

// Typing pushes a typing indicator for the session user. timeoutMS is
// how long the indicator stays up when typing is true.
func (s *Session) Typing(ctx context.Context, roomID ref.RoomID, typing bool, timeoutMS int64) error {
	token, err := s.token()
	if err != nil {
		return err
	}

	request := TypingRequest{Typing: typing}
	if typing {
		request.Timeout = timeoutMS
	}
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/typing/" + url.PathEscape(s.userID.String())
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, token, request); err != nil {
		return fmt.Errorf("messaging: typing update failed: %w", err)
	}
	return nil
}

// UploadMedia uploads content to the homeserver's media repository and
// returns the mxc:// content URI. Resolve it back to a download URL
// with Client.MediaDownloadURL.
func (s *Session) UploadMedia(ctx context.Context, contentType, filename string, content io.Reader) (string, error) {
	token, err := s.token()
	if err != nil {
		return "", err
	}

	path := "/_matrix/media/v3/upload"
	if filename != "" {
		path += "?filename=" + url.QueryEscape(filename)
	}
	body, err := s.client.doRequestRaw(ctx, http.MethodPost, path, token, contentType, content)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}

	var response UploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	return response.ContentURI, nil
}
