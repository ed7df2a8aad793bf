// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lattice-im/lattice/lib/secret"
)

// newTestSession creates a Client and a token-authenticated Session
// pointing at a test server.
func newTestSession(t *testing.T, handler http.Handler) (*Client, *Session) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		HomeserverURL: server.URL,
		ServerName:    "local",
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := SessionFromToken(client, "@test:local", "test-token", "DEV1")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return client, session
}

// testBuffer creates a secret.Buffer from a string, closed when the
// test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func assertAuth(t *testing.T, request *http.Request, expectedToken string) {
	t.Helper()
	auth := request.Header.Get("Authorization")
	expected := "Bearer " + expectedToken
	if auth != expected {
		t.Errorf("unexpected auth header: got %q, want %q", auth, expected)
	}
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func TestNewSessionNormalizesIdentity(t *testing.T) {
	client, err := NewClient(ClientConfig{
		HomeserverURL: "https://matrix.org",
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		identity string
		want     string
	}{
		{"alice", "@alice:matrix.org"},
		{"@alice", "@alice:matrix.org"},
		{"alice:matrix.org", "@alice:matrix.org"},
		{"@alice:matrix.org", "@alice:matrix.org"},
		{"@bob:elsewhere.net", "@bob:elsewhere.net"},
	}
	for _, test := range tests {
		session, err := NewSession(client, test.identity)
		if err != nil {
			t.Fatalf("NewSession(%q) failed: %v", test.identity, err)
		}
		if got := session.UserID().String(); got != test.want {
			t.Errorf("NewSession(%q) user ID = %q, want %q", test.identity, got, test.want)
		}
	}

	if _, err := NewSession(client, ""); err == nil {
		t.Error("expected error for empty identity")
	}
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/login" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		var body LoginRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode login request: %v", err)
		}
		if body.Type != "m.login.password" {
			t.Errorf("unexpected login type: %s", body.Type)
		}
		if body.User != "@alice:local" {
			t.Errorf("unexpected user: %s", body.User)
		}
		if body.Password != "hunter2" {
			t.Errorf("unexpected password: %s", body.Password)
		}
		writeJSON(writer, map[string]any{
			"user_id":      "@alice:local",
			"access_token": "tok-abc",
			"device_id":    "DEVX",
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		HomeserverURL: server.URL,
		ServerName:    "local",
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := NewSession(client, "alice")
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	loginFired := 0
	session.OnLogin(func() { loginFired++ })

	if err := session.Login(context.Background(), testBuffer(t, "hunter2")); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got := session.AccessToken(); got != "tok-abc" {
		t.Errorf("access token = %q, want %q", got, "tok-abc")
	}
	if got := session.DeviceID(); got != "DEVX" {
		t.Errorf("device id = %q, want %q", got, "DEVX")
	}
	if loginFired != 1 {
		t.Errorf("login observer fired %d times, want 1", loginFired)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusForbidden)
		json.NewEncoder(writer).Encode(map[string]any{
			"errcode": "M_FORBIDDEN",
			"error":   "Invalid password",
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		HomeserverURL: server.URL,
		ServerName:    "local",
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := NewSession(client, "alice")
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	err = session.Login(context.Background(), testBuffer(t, "wrong"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Errorf("underlying MatrixError not preserved: %v", err)
	}
	if got := session.AccessToken(); got != "" {
		t.Errorf("access token set after failed login: %q", got)
	}
}

func TestLogout(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/logout" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, map[string]any{})
	}))

	if err := session.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if got := session.AccessToken(); got != "" {
		t.Errorf("access token survives logout: %q", got)
	}
	if _, err := session.WhoAmI(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated after logout, got %v", err)
	}
	if err := session.Logout(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("second logout should report ErrNotAuthenticated, got %v", err)
	}
}

func TestLogoutClearsTokenOnServerError(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(writer).Encode(map[string]any{"errcode": "M_UNKNOWN", "error": "boom"})
	}))

	if err := session.Logout(context.Background()); err == nil {
		t.Fatal("expected logout error")
	}
	if got := session.AccessToken(); got != "" {
		t.Errorf("access token survives failed logout: %q", got)
	}
}

func TestWhoAmI(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		if request.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writeJSON(writer, map[string]any{"user_id": "@test:local", "device_id": "DEV1"})
	}))

	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if got := userID.String(); got != "@test:local" {
		t.Errorf("unexpected user ID: %s", got)
	}
}

func TestSessionClose(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, map[string]any{})
	}))

	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := session.AccessToken(); got != "" {
		t.Errorf("access token survives Close: %q", got)
	}
}
