// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID (e.g., "@alice:matrix.org").
//
// A Matrix user ID always starts with '@' and contains a ':' separating
// the localpart from the server name. This type validates the
// structural format only; it accepts any structurally valid Matrix
// user ID regardless of homeserver.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
// Returns an error if the string is empty, doesn't start with '@',
// has an empty localpart, or is missing the ':server' suffix.
func ParseUserID(raw string) (UserID, error) {
	_, _, err := parseMatrixID(raw)
	if err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// NormalizeUserID turns a loosely specified identity into a
// fully-qualified Matrix user ID. A missing '@' sigil is prepended and
// a missing ':server' suffix is appended from defaultServer:
//
//	NormalizeUserID("alice", server)          → "@alice:matrix.org"
//	NormalizeUserID("@alice", server)         → "@alice:matrix.org"
//	NormalizeUserID("@alice:elsewhere", srv)  → "@alice:elsewhere"
//
// Normalization happens once, when a session is constructed. Returns
// an error if the result is still not a valid user ID (for example an
// empty input or a zero defaultServer when the suffix is missing).
func NormalizeUserID(raw string, defaultServer ServerName) (UserID, error) {
	if raw == "" {
		return UserID{}, fmt.Errorf("empty user identity")
	}
	normalized := raw
	if normalized[0] != '@' {
		normalized = "@" + normalized
	}
	if !containsServerSuffix(normalized) {
		if defaultServer.IsZero() {
			return UserID{}, fmt.Errorf("user identity %q has no server and no default server is configured", raw)
		}
		normalized = normalized + ":" + defaultServer.String()
	}
	return ParseUserID(normalized)
}

// containsServerSuffix reports whether the identifier already carries
// a ':server' component after its sigil.
func containsServerSuffix(identifier string) bool {
	for i := 1; i < len(identifier); i++ {
		if identifier[i] == ':' {
			return true
		}
	}
	return false
}

// String returns the full user ID string (e.g., "@alice:matrix.org").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart portion of the user ID (without the
// '@' prefix or ':server' suffix). Panics if called on a zero-value
// UserID.
func (u UserID) Localpart() string {
	if u.id == "" {
		panic("UserID.Localpart called on zero value")
	}
	localpart, _, err := parseMatrixID(u.id)
	if err != nil {
		// UserID was validated at construction; this is unreachable.
		panic(fmt.Sprintf("UserID.Localpart: internal error parsing %q: %v", u.id, err))
	}
	return localpart
}

// Server returns the server portion of the user ID (after the ':').
// Panics if called on a zero-value UserID.
func (u UserID) Server() string {
	if u.id == "" {
		panic("UserID.Server called on zero value")
	}
	_, server, err := parseMatrixID(u.id)
	if err != nil {
		// UserID was validated at construction; this is unreachable.
		panic(fmt.Sprintf("UserID.Server: internal error parsing %q: %v", u.id, err))
	}
	return server
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return []byte{}, nil
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the user ID format.
// An empty input produces the zero value (unset user ID).
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
