// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "testing"

func TestParseUserID(t *testing.T) {
	valid := []string{
		"@alice:matrix.org",
		"@bob:example.com:8448",
		"@weird.local-part_1=+/:server",
	}
	for _, raw := range valid {
		u, err := ParseUserID(raw)
		if err != nil {
			t.Errorf("ParseUserID(%q) failed: %v", raw, err)
			continue
		}
		if u.String() != raw {
			t.Errorf("ParseUserID(%q).String() = %q", raw, u.String())
		}
		if u.IsZero() {
			t.Errorf("ParseUserID(%q).IsZero() = true", raw)
		}
	}

	invalid := []string{
		"",
		"alice",
		"alice:matrix.org",
		"@alice",
		"@:matrix.org",
		"@alice:",
		"#alice:matrix.org",
	}
	for _, raw := range invalid {
		if _, err := ParseUserID(raw); err == nil {
			t.Errorf("ParseUserID(%q) succeeded, want error", raw)
		}
	}
}

func TestUserIDParts(t *testing.T) {
	u := MustParseUserID("@alice:matrix.org")
	if got := u.Localpart(); got != "alice" {
		t.Errorf("Localpart() = %q, want %q", got, "alice")
	}
	if got := u.Server(); got != "matrix.org" {
		t.Errorf("Server() = %q, want %q", got, "matrix.org")
	}

	// Server names may carry a port; the first colon still splits.
	u = MustParseUserID("@bob:example.com:8448")
	if got := u.Server(); got != "example.com:8448" {
		t.Errorf("Server() = %q, want %q", got, "example.com:8448")
	}
}

func TestNormalizeUserID(t *testing.T) {
	server := MustParseServerName("matrix.org")

	tests := []struct {
		raw  string
		want string
	}{
		{"alice", "@alice:matrix.org"},
		{"@alice", "@alice:matrix.org"},
		{"alice:matrix.org", "@alice:matrix.org"},
		{"@alice:matrix.org", "@alice:matrix.org"},
		{"@alice:elsewhere.net", "@alice:elsewhere.net"},
	}
	for _, tt := range tests {
		got, err := NormalizeUserID(tt.raw, server)
		if err != nil {
			t.Errorf("NormalizeUserID(%q) failed: %v", tt.raw, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("NormalizeUserID(%q) = %q, want %q", tt.raw, got.String(), tt.want)
		}
	}
}

func TestNormalizeUserIDErrors(t *testing.T) {
	server := MustParseServerName("matrix.org")

	if _, err := NormalizeUserID("", server); err == nil {
		t.Error("NormalizeUserID(\"\") succeeded, want error")
	}
	// No server component and no default to fall back on.
	if _, err := NormalizeUserID("alice", ServerName{}); err == nil {
		t.Error("NormalizeUserID with zero default server succeeded, want error")
	}
	// Prepending '@' to an already-sigiled alias still fails validation.
	if _, err := NormalizeUserID("@:matrix.org", server); err == nil {
		t.Error("NormalizeUserID(\"@:matrix.org\") succeeded, want error")
	}
}

func TestUserIDTextRoundTrip(t *testing.T) {
	u := MustParseUserID("@alice:matrix.org")
	data, err := u.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var decoded UserID
	if err := decoded.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if decoded != u {
		t.Errorf("round trip = %q, want %q", decoded.String(), u.String())
	}

	var zero UserID
	if err := zero.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !zero.IsZero() {
		t.Error("UnmarshalText(nil) produced non-zero UserID")
	}

	var invalid UserID
	if err := invalid.UnmarshalText([]byte("not-a-user-id")); err == nil {
		t.Error("UnmarshalText of invalid input succeeded, want error")
	}
}

func TestServerFromUserID(t *testing.T) {
	server, err := ServerFromUserID("@alice:matrix.org")
	if err != nil {
		t.Fatalf("ServerFromUserID failed: %v", err)
	}
	if server.String() != "matrix.org" {
		t.Errorf("ServerFromUserID = %q, want %q", server.String(), "matrix.org")
	}

	if _, err := ServerFromUserID("not-a-user-id"); err == nil {
		t.Error("ServerFromUserID of invalid input succeeded, want error")
	}
}
