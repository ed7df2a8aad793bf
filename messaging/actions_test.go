// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/lattice-im/lattice/lib/ref"
)

func TestCreateRoom(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/createRoom" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		var body CreateRoomRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body.Name != "Ops" {
			t.Errorf("unexpected name: %s", body.Name)
		}
		if body.Alias != "ops" {
			t.Errorf("unexpected alias: %s", body.Alias)
		}
		writeJSON(writer, map[string]any{"room_id": "!new:matrix.org"})
	}))

	room, err := session.CreateRoom(context.Background(), CreateRoomRequest{
		Name:   "Ops",
		Alias:  "ops",
		Preset: "private_chat",
	})
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if got := room.ID().String(); got != "!new:matrix.org" {
		t.Errorf("room id = %q, want %q", got, "!new:matrix.org")
	}
	if session.Room(room.ID()) != room {
		t.Error("created room not registered with the session")
	}
}

func TestJoinRoom(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if !strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/join/") {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, map[string]any{"room_id": "!joined:matrix.org"})
	}))

	roomID, err := session.JoinRoom(context.Background(), "#ops:matrix.org")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if got := roomID.String(); got != "!joined:matrix.org" {
		t.Errorf("room id = %q, want %q", got, "!joined:matrix.org")
	}
	if session.Room(roomID) == nil {
		t.Error("joined room not registered with the session")
	}
}

func TestLeaveRoom(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if !strings.HasSuffix(request.URL.Path, "/leave") {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, map[string]any{})
	}))

	roomID := ref.MustParseRoomID("!abc:matrix.org")
	session.roomOrCreate(roomID)

	if err := session.LeaveRoom(context.Background(), roomID); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}
	if session.Room(roomID) != nil {
		t.Error("left room still registered with the session")
	}
}

func TestForgetRoom(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasSuffix(request.URL.Path, "/forget") {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, map[string]any{})
	}))

	if err := session.ForgetRoom(context.Background(), ref.MustParseRoomID("!abc:matrix.org")); err != nil {
		t.Fatalf("ForgetRoom failed: %v", err)
	}
}

func TestTyping(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", request.Method)
		}
		if !strings.HasSuffix(request.URL.Path, "/typing/@test:local") {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		var body TypingRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if !body.Typing || body.Timeout != 5000 {
			t.Errorf("unexpected typing body: %+v", body)
		}
		writeJSON(writer, map[string]any{})
	}))

	if err := session.Typing(context.Background(), ref.MustParseRoomID("!abc:matrix.org"), true, 5000); err != nil {
		t.Fatalf("Typing failed: %v", err)
	}
}

func TestUploadMedia(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/media/v3/upload" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if got := request.URL.Query().Get("filename"); got != "note.txt" {
			t.Errorf("filename = %q, want %q", got, "note.txt")
		}
		if got := request.Header.Get("Content-Type"); got != "text/plain" {
			t.Errorf("content type = %q, want %q", got, "text/plain")
		}
		body, err := io.ReadAll(request.Body)
		if err != nil {
			t.Fatalf("failed to read upload body: %v", err)
		}
		if string(body) != "hello" {
			t.Errorf("upload body = %q, want %q", body, "hello")
		}
		writeJSON(writer, map[string]any{"content_uri": "mxc://local/xyz"})
	}))

	uri, err := session.UploadMedia(context.Background(), "text/plain", "note.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("UploadMedia failed: %v", err)
	}
	if uri != "mxc://local/xyz" {
		t.Errorf("content uri = %q, want %q", uri, "mxc://local/xyz")
	}
}
