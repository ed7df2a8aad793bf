// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package statestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lattice-im/lattice/lib/ref"
	"github.com/lattice-im/lattice/messaging"
	"github.com/lattice-im/lattice/statestore"
)

func openTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.Open(statestore.Config{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, found, err := store.LoadSession(ctx); err != nil {
		t.Fatalf("LoadSession on empty store failed: %v", err)
	} else if found {
		t.Fatal("LoadSession reported a session in an empty store")
	}

	saved := statestore.SessionState{
		UserID:      ref.MustParseUserID("@alice:matrix.org"),
		DeviceID:    "DEV1",
		AccessToken: "tok-abc",
		NextBatch:   "s100",
	}
	if err := store.SaveSession(ctx, saved); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, found, err := store.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if !found {
		t.Fatal("LoadSession found nothing after save")
	}
	if loaded != saved {
		t.Errorf("loaded session = %+v, want %+v", loaded, saved)
	}

	// Saving again overwrites the singleton row.
	saved.NextBatch = "s200"
	if err := store.SaveSession(ctx, saved); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}
	loaded, _, err = store.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.NextBatch != "s200" {
		t.Errorf("next_batch = %q, want %q", loaded.NextBatch, "s200")
	}
}

func TestSaveNextBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SaveNextBatch(ctx, "s1"); err == nil {
		t.Error("SaveNextBatch should fail before SaveSession")
	}

	if err := store.SaveSession(ctx, statestore.SessionState{
		UserID:      ref.MustParseUserID("@alice:matrix.org"),
		DeviceID:    "DEV1",
		AccessToken: "tok",
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := store.SaveNextBatch(ctx, "s1"); err != nil {
		t.Fatalf("SaveNextBatch failed: %v", err)
	}

	loaded, _, err := store.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.NextBatch != "s1" {
		t.Errorf("next_batch = %q, want %q", loaded.NextBatch, "s1")
	}
}

func TestRoomSnapshotRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	bob := ref.MustParseUserID("@bob:matrix.org")
	stateKey := bob.String()
	snapshots := []statestore.RoomSnapshot{
		{
			RoomID:     ref.MustParseRoomID("!abc:matrix.org"),
			Name:       "Ops",
			Topic:      "incident response",
			Membership: "join",
			Members: map[ref.UserID]messaging.Member{
				bob: {DisplayName: "Bob"},
			},
			Timeline: []messaging.Event{
				{
					EventID:  ref.MustParseEventID("$e1:matrix.org"),
					Type:     "m.room.member",
					Sender:   bob,
					StateKey: &stateKey,
					Content:  map[string]any{"membership": "join", "displayname": "Bob"},
				},
			},
			PrevBatch:     "p1",
			FullSyncToken: "s1",
		},
		{
			RoomID:     ref.MustParseRoomID("!xyz:matrix.org"),
			Membership: "join",
		},
	}

	if err := store.SaveRoomSnapshots(ctx, snapshots); err != nil {
		t.Fatalf("SaveRoomSnapshots failed: %v", err)
	}

	loaded, err := store.LoadRoomSnapshots(ctx)
	if err != nil {
		t.Fatalf("LoadRoomSnapshots failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d snapshots, want 2", len(loaded))
	}

	// Ordered by room id: !abc before !xyz.
	got := loaded[0]
	if got.RoomID != snapshots[0].RoomID || got.Name != "Ops" || got.PrevBatch != "p1" || got.FullSyncToken != "s1" {
		t.Errorf("snapshot fields wrong: %+v", got)
	}
	if member, ok := got.Members[bob]; !ok || member.DisplayName != "Bob" {
		t.Errorf("membership map lost in round trip: %+v", got.Members)
	}
	if len(got.Timeline) != 1 {
		t.Fatalf("timeline length = %d, want 1", len(got.Timeline))
	}
	event := got.Timeline[0]
	if event.EventID != ref.MustParseEventID("$e1:matrix.org") {
		t.Errorf("event id = %v, want $e1", event.EventID)
	}
	if event.StateKey == nil || *event.StateKey != bob.String() {
		t.Errorf("state key lost in round trip: %v", event.StateKey)
	}
	if event.Content["displayname"] != "Bob" {
		t.Errorf("event content lost in round trip: %v", event.Content)
	}
}

func TestDeleteRoomSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	roomID := ref.MustParseRoomID("!abc:matrix.org")
	if err := store.SaveRoomSnapshots(ctx, []statestore.RoomSnapshot{{RoomID: roomID}}); err != nil {
		t.Fatalf("SaveRoomSnapshots failed: %v", err)
	}
	if err := store.DeleteRoomSnapshot(ctx, roomID); err != nil {
		t.Fatalf("DeleteRoomSnapshot failed: %v", err)
	}

	loaded, err := store.LoadRoomSnapshots(ctx)
	if err != nil {
		t.Fatalf("LoadRoomSnapshots failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d snapshots after delete, want 0", len(loaded))
	}
}

func TestDeleteSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, statestore.SessionState{
		UserID:      ref.MustParseUserID("@alice:matrix.org"),
		DeviceID:    "DEV1",
		AccessToken: "tok",
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := store.SaveRoomSnapshots(ctx, []statestore.RoomSnapshot{
		{RoomID: ref.MustParseRoomID("!abc:matrix.org")},
	}); err != nil {
		t.Fatalf("SaveRoomSnapshots failed: %v", err)
	}

	if err := store.DeleteSession(ctx); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, found, err := store.LoadSession(ctx); err != nil || found {
		t.Errorf("session survives DeleteSession (found=%v, err=%v)", found, err)
	}
	rooms, err := store.LoadRoomSnapshots(ctx)
	if err != nil || len(rooms) != 0 {
		t.Errorf("room snapshots survive DeleteSession (%d rooms, err=%v)", len(rooms), err)
	}
}
