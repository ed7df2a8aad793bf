// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/lattice-im/lattice/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by the login endpoint.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// CreateRoomRequest holds parameters for creating a room.
type CreateRoomRequest struct {
	Name       string   `json:"name,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Alias      string   `json:"room_alias_name,omitempty"` // local alias without # or :server
	Visibility string   `json:"visibility,omitempty"`      // "public" or "private"
	Preset     string   `json:"preset,omitempty"`          // "private_chat", "public_chat", "trusted_private_chat"
	Invite     []string `json:"invite,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// Event is a single Matrix event from the server. Content stays an
// untyped map because the router dispatches on the type string and
// each handler knows its own content shape; unknown types flow through
// untouched.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        ref.EventID    `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Member is one entry in a room's membership map.
type Member struct {
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// SyncOptions controls one /sync request.
type SyncOptions struct {
	Since       string // next_batch token from the previous sync; empty for initial sync
	Timeout     int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout  bool   // send the timeout parameter (distinguishes "not set" from "0")
	FullState   bool   // request full room state instead of a delta
	SetPresence string // presence hint ("offline", "online", "unavailable"); empty omits
	Filter      string // filter ID or inline JSON filter
}

// SyncResponse is the top-level /sync response.
type SyncResponse struct {
	NextBatch   string             `json:"next_batch"`
	Rooms       RoomsSection       `json:"rooms"`
	Presence    EventsSection      `json:"presence,omitempty"`
	AccountData EventsSection      `json:"account_data,omitempty"`
	ToDevice    EventsSection      `json:"to_device,omitempty"`
	DeviceLists DeviceListsSection `json:"device_lists,omitempty"`
}

// EventsSection is a bare list of events, the shape shared by the
// presence, account_data, and to_device top-level categories.
type EventsSection struct {
	Events []Event `json:"events"`
}

// DeviceListsSection reports device tracking changes.
type DeviceListsSection struct {
	Changed []ref.UserID `json:"changed,omitempty"`
	Left    []ref.UserID `json:"left,omitempty"`
}

// RoomsSection groups per-room sync data by membership state. Map keys
// are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler for
// validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoomDelta  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoomDelta `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoomDelta    `json:"leave,omitempty"`
}

// JoinedRoomDelta is the sync delta for a joined room. All five
// sub-sections are applied on every delta, empty or not.
type JoinedRoomDelta struct {
	State               StateSection             `json:"state"`
	Timeline            TimelineSection          `json:"timeline"`
	Ephemeral           EventsSection            `json:"ephemeral"`
	AccountData         EventsSection            `json:"account_data"`
	UnreadNotifications UnreadNotificationCounts `json:"unread_notifications"`
}

// InvitedRoomDelta is the sync delta for a room the user was invited to.
type InvitedRoomDelta struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoomDelta is the sync delta for a room the user has left.
type LeftRoomDelta struct {
	State    StateSection    `json:"state"`
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection contains timeline events from a sync delta.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync delta.
type StateSection struct {
	Events []Event `json:"events"`
}

// UnreadNotificationCounts reports unread totals for a joined room.
type UnreadNotificationCounts struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

// RoomMessagesOptions controls pagination for the /messages endpoint.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	To        string // stop token; empty paginates without bound
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses the server default
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SendEventResponse is returned by the send endpoint.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// TypingRequest is the body for the typing-indicator endpoint.
type TypingRequest struct {
	Typing  bool  `json:"typing"`
	Timeout int64 `json:"timeout,omitempty"` // milliseconds; only meaningful when Typing is true
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// RoomAccountData is room-scoped private account data, keyed by event
// type, holding the raw content payload.
type RoomAccountData map[string]json.RawMessage
