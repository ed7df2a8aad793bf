// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lattice-im/lattice/lib/ref"
)

// EventLog is an append-only event list with a drain cursor. Events are
// stored oldest first so a push is a plain append; views come out
// newest first, and consumers needing chronological order reverse on
// read. Drain returns the events pushed since the previous drain and
// advances the cursor, leaving the log itself intact.
type EventLog struct {
	events  []Event // oldest first
	drained int     // index below which Drain has already consumed
}

// Push appends an event to the log.
func (l *EventLog) Push(event Event) {
	l.events = append(l.events, event)
}

// Len returns the total number of events in the log.
func (l *EventLog) Len() int {
	return len(l.events)
}

// All returns a copy of the full log, newest first.
func (l *EventLog) All() []Event {
	return reverseCopy(l.events)
}

// New returns the events pushed since the last Drain, newest first,
// without advancing the cursor.
func (l *EventLog) New() []Event {
	return reverseCopy(l.events[l.drained:])
}

// Drain returns the events pushed since the last Drain and advances
// the cursor past them.
func (l *EventLog) Drain() []Event {
	fresh := l.New()
	l.drained = len(l.events)
	return fresh
}

func reverseCopy(events []Event) []Event {
	reversed := make([]Event, len(events))
	for i, event := range events {
		reversed[len(events)-1-i] = event
	}
	return reversed
}

// Room accumulates membership, state, and timeline for one room the
// session knows about. All mutation happens on the session's sync
// goroutine; accessors take the room lock so other goroutines read a
// consistent snapshot.
type Room struct {
	id      ref.RoomID
	session *Session

	mu             sync.RWMutex
	name           string
	topic          string
	canonicalAlias ref.RoomAlias
	aliases        []ref.RoomAlias
	membership     string
	members        map[ref.UserID]Member
	state          EventLog
	timeline       EventLog
	ephemeral      []Event
	accountData    RoomAccountData
	unread         UnreadNotificationCounts
	lastEventID    ref.EventID

	// prevBatch points backward from the oldest timeline event we
	// hold; fullSyncToken marks the stream position up to which the
	// timeline is known gap-free. Empty fullSyncToken means a gap may
	// exist (or nothing has synced yet).
	prevBatch     string
	fullSyncToken string

	// Event handlers run with the room lock held, so observer
	// notifications they raise are queued here and fired after the
	// lock is released. An observer calling back into a room accessor
	// would otherwise deadlock.
	pendingNotify []func()
}

func newRoom(id ref.RoomID, session *Session) *Room {
	return &Room{
		id:          id,
		session:     session,
		members:     make(map[ref.UserID]Member),
		accountData: make(RoomAccountData),
	}
}

// ID returns the room's identifier.
func (r *Room) ID() ref.RoomID {
	return r.id
}

// Name returns the room's display name from the most recent
// m.room.name event, or empty.
func (r *Room) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Topic returns the room's topic, or empty.
func (r *Room) Topic() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topic
}

// CanonicalAlias returns the room's canonical alias; the zero value
// when none is set.
func (r *Room) CanonicalAlias() ref.RoomAlias {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canonicalAlias
}

// Aliases returns the room's published aliases.
func (r *Room) Aliases() []ref.RoomAlias {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ref.RoomAlias{}, r.aliases...)
}

// Membership returns the session user's membership in this room
// ("join", "invite", "leave"), or empty before the first delta.
func (r *Room) Membership() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membership
}

// Member returns the membership entry for userID, if present.
func (r *Room) Member(userID ref.UserID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	member, ok := r.members[userID]
	return member, ok
}

// Members returns a copy of the room's membership map.
func (r *Room) Members() map[ref.UserID]Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make(map[ref.UserID]Member, len(r.members))
	for userID, member := range r.members {
		members[userID] = member
	}
	return members
}

// TimelineLen returns the total number of timeline events accumulated
// since the room was created.
func (r *Room) TimelineLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeline.Len()
}

// Timeline returns a copy of the full timeline, newest first.
func (r *Room) Timeline() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeline.All()
}

// DrainTimeline returns the timeline events received since the last
// drain, newest first, and advances the drain cursor.
func (r *Room) DrainTimeline() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeline.Drain()
}

// DrainState returns the state events received since the last drain,
// newest first, and advances the drain cursor.
func (r *Room) DrainState() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Drain()
}

// LastEventID returns the id of the most recent timeline event, useful
// for read receipts.
func (r *Room) LastEventID() ref.EventID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEventID
}

// PrevBatch returns the room's backward-pagination token.
func (r *Room) PrevBatch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prevBatch
}

// FullSyncToken returns the cursor up to which the room's timeline is
// known gap-free; empty when a gap may exist.
func (r *Room) FullSyncToken() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fullSyncToken
}

// UnreadCounts returns the room's unread notification totals from the
// most recent delta.
func (r *Room) UnreadCounts() UnreadNotificationCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unread
}

// AccountData returns the raw content of the room-scoped account data
// event with the given type, if present.
func (r *Room) AccountData(eventType string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.accountData[eventType]
	return raw, ok
}

// applyJoinedDelta applies one joined-room sync delta. Every
// sub-section handler runs whether its section is empty or not, so
// per-section side effects (advancing the full-sync cursor in
// particular) happen consistently. The room update observers fire once
// at the end.
func (r *Room) applyJoinedDelta(delta *JoinedRoomDelta, nextBatch string) {
	r.mu.Lock()
	r.membership = "join"

	r.applyState(delta.State.Events)
	needBackfill := r.applyTimeline(&delta.Timeline, nextBatch)
	r.applyEphemeral(delta.Ephemeral.Events)
	r.applyAccountData(delta.AccountData.Events)
	r.unread = delta.UnreadNotifications
	r.mu.Unlock()

	r.flushNotifications()

	if needBackfill {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.session.FetchHistory(ctx, r, 0); err != nil {
			r.session.client.logger.Error("backfill failed",
				"room_id", r.id,
				"error", err,
			)
		}
		cancel()
	}

	for _, observer := range r.session.copyRoomUpdateObservers() {
		observer(r)
	}
}

// applyState appends each state event to the state log and routes it.
// Called with the room lock held.
func (r *Room) applyState(events []Event) {
	for _, event := range events {
		r.state.Push(event)
		r.routeEvent(event)
	}
}

// applyTimeline appends each timeline event to the timeline log and
// routes it, then updates the pagination cursors. A limited delta with
// a previously recorded full-sync cursor means events were dropped
// between that cursor and this delta, and backfill is needed; a
// limited delta with no prior cursor has nothing to fill toward and is
// accepted as-is. An unlimited delta proves continuity, so the
// session's new cursor becomes the room's full-sync cursor. Called
// with the room lock held; returns whether to backfill.
func (r *Room) applyTimeline(timeline *TimelineSection, nextBatch string) bool {
	for _, event := range timeline.Events {
		r.timeline.Push(event)
		if !event.EventID.IsZero() {
			r.lastEventID = event.EventID
		}
		r.routeEvent(event)
	}
	if timeline.PrevBatch != "" {
		r.prevBatch = timeline.PrevBatch
	}

	if timeline.Limited {
		return r.fullSyncToken != ""
	}
	r.fullSyncToken = nextBatch
	return false
}

// applyEphemeral replaces the room's ephemeral events (typing,
// receipts). Ephemeral events are transient by definition and are not
// logged or routed. Called with the room lock held.
func (r *Room) applyEphemeral(events []Event) {
	if len(events) > 0 {
		r.ephemeral = events
	}
}

// applyAccountData stores room-scoped account data content keyed by
// event type. Called with the room lock held.
func (r *Room) applyAccountData(events []Event) {
	for _, event := range events {
		raw, err := json.Marshal(event.Content)
		if err != nil {
			r.session.client.logger.Error("failed to encode room account data",
				"room_id", r.id,
				"event_type", event.Type,
				"error", err,
			)
			continue
		}
		r.accountData[string(event.Type)] = raw
	}
}

// flushNotifications fires and clears the notifications queued by
// event handlers during delta application.
func (r *Room) flushNotifications() {
	r.mu.Lock()
	pending := r.pendingNotify
	r.pendingNotify = nil
	r.mu.Unlock()
	for _, notify := range pending {
		notify()
	}
}

// applyInviteState applies the stripped state of a pending invite.
func (r *Room) applyInviteState(delta *InvitedRoomDelta) {
	r.mu.Lock()
	r.membership = "invite"
	r.applyState(delta.InviteState.Events)
	r.mu.Unlock()

	r.flushNotifications()
	for _, observer := range r.session.copyRoomUpdateObservers() {
		observer(r)
	}
}

// applyLeftDelta applies the final delta for a room the user left. The
// session drops the room afterwards; this records the last events for
// any observer that still holds a reference.
func (r *Room) applyLeftDelta(delta *LeftRoomDelta) {
	r.mu.Lock()
	r.membership = "leave"
	r.applyState(delta.State.Events)
	r.applyTimeline(&delta.Timeline, "")
	r.mu.Unlock()

	r.flushNotifications()
	for _, observer := range r.session.copyRoomUpdateObservers() {
		observer(r)
	}
}
