// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/lattice-im/lattice/lib/ref"
	"github.com/lattice-im/lattice/lib/secret"
)

// Session is an authenticated connection to the homeserver: the access
// credential, the device id, the outgoing transaction counter, and the
// set of known rooms. Every authenticated request is issued through a
// Session.
//
// The access token lives in a secret.Buffer (mmap-backed, locked
// against swap, excluded from core dumps). It is nil before Login and
// nil again after Logout; operations that need it fail with
// ErrNotAuthenticated.
type Session struct {
	client *Client
	userID ref.UserID

	mu          sync.RWMutex
	accessToken *secret.Buffer
	deviceID    string
	rooms       map[ref.RoomID]*Room
	nextBatch   string
	initialSync bool

	// txnCounter issues transaction ids for idempotent sends. Seeded
	// randomly so ids from a restarted process cannot collide with a
	// previous run's under the same credential.
	txnCounter atomic.Int64

	// sync engine state; see sync.go.
	syncRunning  atomic.Bool
	disconnected atomic.Bool
	pollCancel   context.CancelFunc
	syncDone     chan struct{}
	categories   map[string]CategoryHandler

	handlerMu     sync.RWMutex
	eventHandlers map[ref.EventType]EventHandler

	observerMu          sync.Mutex
	loginObservers      []func()
	roomUpdateObservers []func(*Room)
	metadataObservers   []func(*Room)
	memberObservers     []func(*Room, ref.UserID, string)
}

// NewSession creates a session for the given identity. The identity is
// normalized once, here: a missing '@' sigil is prepended and a
// missing ':server' suffix is appended from the client's server name,
// so "alice" becomes "@alice:example.com".
func NewSession(client *Client, identity string) (*Session, error) {
	userID, err := ref.NormalizeUserID(identity, client.defaultServer)
	if err != nil {
		return nil, fmt.Errorf("messaging: normalizing identity: %w", err)
	}

	s := &Session{
		client:        client,
		userID:        userID,
		rooms:         make(map[ref.RoomID]*Room),
		categories:    make(map[string]CategoryHandler),
		eventHandlers: builtinEventHandlers(),
	}
	s.txnCounter.Store(rand.Int64N(1 << 32))
	return s, nil
}

// SessionFromToken creates an already-authenticated session from a
// persisted access token. The token moves into mmap-backed memory; the
// caller's string copy is collected by the GC in due course. The token
// is not validated here; call WhoAmI to check it.
func SessionFromToken(client *Client, identity, accessToken, deviceID string) (*Session, error) {
	s, err := NewSession(client, identity)
	if err != nil {
		return nil, err
	}
	tokenBuffer, err := secret.NewFromBytes([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	s.accessToken = tokenBuffer
	s.deviceID = deviceID
	s.initialSync = true
	return s, nil
}

// UserID returns the fully-qualified user ID this session acts as.
func (s *Session) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device id assigned at login, or empty before
// login.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// AccessToken returns the access token as a heap string, for
// persistence by a collaborator. Returns empty when not authenticated.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == nil {
		return ""
	}
	return s.accessToken.String()
}

// NextBatch returns the current resumption cursor, empty before the
// first successful sync.
func (s *Session) NextBatch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextBatch
}

// SetNextBatch seeds the resumption cursor, for resuming from
// persisted state before StartSync. Seeding a cursor means the room
// state up to that point is already held, so the first poll asks for a
// delta, not full state.
func (s *Session) SetNextBatch(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBatch = token
	if token != "" {
		s.initialSync = false
	}
}

// Login exchanges the password for an access credential. On success
// the credential and device id are stored, the initial-sync flag is
// set, and login observers fire. A 403 from the server surfaces as
// ErrInvalidCredentials (wrapping the *MatrixError); other failures
// surface raw. Never retried automatically.
//
// The password Buffer is read but not closed; the caller retains
// ownership.
func (s *Session) Login(ctx context.Context, password *secret.Buffer) error {
	if password == nil {
		return fmt.Errorf("messaging: password is required for login")
	}

	// Password becomes a string at the JSON serialization boundary;
	// the heap copy lives only for the duration of the HTTP call.
	loginRequest := LoginRequest{
		Type:                     "m.login.password",
		User:                     s.userID.String(),
		Password:                 password.String(),
		InitialDeviceDisplayName: s.client.deviceName,
	}

	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, loginRequest)
	if err != nil {
		var matrixErr *MatrixError
		if errors.As(err, &matrixErr) && matrixErr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	tokenBuffer, err := secret.NewFromBytes([]byte(authResponse.AccessToken))
	if err != nil {
		return fmt.Errorf("messaging: protecting access token: %w", err)
	}

	s.mu.Lock()
	s.accessToken = tokenBuffer
	s.deviceID = authResponse.DeviceID
	s.initialSync = true
	s.mu.Unlock()

	s.client.logger.Info("logged in",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	for _, observer := range s.copyLoginObservers() {
		observer()
	}
	return nil
}

// Logout invalidates the credential server-side and clears it locally.
// A poll in flight at that moment fails on its next cycle because the
// credential is gone; that is accepted, not specially guarded.
func (s *Session) Logout(ctx context.Context) error {
	token := s.takeToken()
	if token == nil {
		return ErrNotAuthenticated
	}

	_, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/logout", token, map[string]any{})

	// Local state is cleared regardless of the server's answer; the
	// credential must not outlive the logout attempt.
	s.mu.Lock()
	s.deviceID = ""
	s.mu.Unlock()
	token.Close()

	if err != nil {
		return fmt.Errorf("messaging: logout failed: %w", err)
	}
	s.client.logger.Info("logged out", "user_id", s.userID)
	return nil
}

// takeToken removes and returns the session's credential, or nil.
func (s *Session) takeToken() *secret.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.accessToken
	s.accessToken = nil
	return token
}

// token returns the session's credential for an authenticated request,
// or ErrNotAuthenticated.
func (s *Session) token() (*secret.Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == nil {
		return nil, ErrNotAuthenticated
	}
	return s.accessToken, nil
}

// WhoAmI asks the server which user the credential belongs to. Useful
// for validating a token restored via SessionFromToken.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	token, err := s.token()
	if err != nil {
		return ref.UserID{}, err
	}
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", token, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// Close releases the access token memory. Idempotent.
func (s *Session) Close() error {
	token := s.takeToken()
	if token != nil {
		return token.Close()
	}
	return nil
}

// Room returns the Room for roomID, or nil if the session has not seen
// it.
func (s *Session) Room(roomID ref.RoomID) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// Rooms returns a snapshot of the session's known rooms.
func (s *Session) Rooms() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// roomOrCreate returns the Room for roomID, creating it on first
// observation of a join delta (or explicit creation).
func (s *Session) roomOrCreate(roomID ref.RoomID) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if room == nil {
		room = newRoom(roomID, s)
		s.rooms[roomID] = room
	}
	return room
}

// removeRoom drops the room from the session's collection; called when
// the user leaves it.
func (s *Session) removeRoom(roomID ref.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// OnLogin registers an observer fired after every successful Login.
// Registration during notification takes effect from the next
// notification.
func (s *Session) OnLogin(observer func()) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.loginObservers = append(s.loginObservers, observer)
}

// OnRoomUpdate registers an observer fired once per joined-room delta,
// after all of the delta's sub-sections have been applied.
func (s *Session) OnRoomUpdate(observer func(*Room)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.roomUpdateObservers = append(s.roomUpdateObservers, observer)
}

// OnRoomMetadata registers an observer fired when a room's display
// metadata (name, topic, aliases) changes.
func (s *Session) OnRoomMetadata(observer func(*Room)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.metadataObservers = append(s.metadataObservers, observer)
}

// OnMembershipChange registers an observer fired when a member joins
// or leaves a room. The membership argument is the raw value from the
// event ("join", "leave", ...).
func (s *Session) OnMembershipChange(observer func(room *Room, userID ref.UserID, membership string)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.memberObservers = append(s.memberObservers, observer)
}

// The observer lists are copied before invocation so a handler that
// registers another observer never mutates the slice being iterated.

func (s *Session) copyLoginObservers() []func() {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	return append([]func(){}, s.loginObservers...)
}

func (s *Session) copyRoomUpdateObservers() []func(*Room) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	return append([]func(*Room){}, s.roomUpdateObservers...)
}

func (s *Session) copyMetadataObservers() []func(*Room) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	return append([]func(*Room){}, s.metadataObservers...)
}

func (s *Session) copyMemberObservers() []func(*Room, ref.UserID, string) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	return append([]func(*Room, ref.UserID, string){}, s.memberObservers...)
}
