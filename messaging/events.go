// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/lattice-im/lattice/lib/ref"
)

// EventHandler mutates room state in response to one event. Handlers
// run on the sync goroutine with the room lock held: they may touch
// room fields directly but must not call room accessors or block.
// Observer notifications are raised by appending to the room's pending
// queue via notifyLater.
type EventHandler func(room *Room, event Event)

// HandleEventType registers a handler for an event type, replacing any
// previous handler including the built-in ones. Events with no handler
// are logged at Debug and skipped; a handler panicking would take down
// the sync loop, so handlers must not panic.
func (s *Session) HandleEventType(eventType ref.EventType, handler EventHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.eventHandlers[eventType] = handler
}

// routeEvent dispatches one event to the handler registered for its
// type. Unknown types are expected as the protocol evolves and are
// never an error. Called with the room lock held.
func (r *Room) routeEvent(event Event) {
	r.session.handlerMu.RLock()
	handler := r.session.eventHandlers[event.Type]
	r.session.handlerMu.RUnlock()

	if handler == nil {
		r.session.client.logger.Debug("unimplemented event type",
			"event_type", event.Type,
			"room_id", r.id,
		)
		return
	}
	handler(r, event)
}

// notifyLater queues a notification to fire after the room lock is
// released. For use by event handlers.
func (r *Room) notifyLater(notify func()) {
	r.pendingNotify = append(r.pendingNotify, notify)
}

func builtinEventHandlers() map[ref.EventType]EventHandler {
	return map[ref.EventType]EventHandler{
		"m.room.member":          handleMemberEvent,
		"m.room.name":            handleNameEvent,
		"m.room.topic":           handleTopicEvent,
		"m.room.canonical_alias": handleCanonicalAliasEvent,
		"m.room.aliases":         handleAliasesEvent,
		"m.room.redaction":       handleRedactionEvent,
	}
}

// handleMemberEvent applies a membership change. Join upserts the
// member's profile, leave removes the entry. Other membership values
// (invite, knock, ban) pass through as no-ops; callers needing them
// register their own handler.
func handleMemberEvent(r *Room, event Event) {
	if event.StateKey == nil {
		r.session.client.logger.Warn("membership event without state_key",
			"room_id", r.id,
			"event_id", event.EventID,
		)
		return
	}
	userID, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		r.session.client.logger.Warn("membership event with invalid state_key",
			"room_id", r.id,
			"state_key", *event.StateKey,
			"error", err,
		)
		return
	}

	membership := contentString(event.Content, "membership")
	switch membership {
	case "join":
		r.members[userID] = Member{
			DisplayName: contentString(event.Content, "displayname"),
			AvatarURL:   contentString(event.Content, "avatar_url"),
		}
	case "leave":
		delete(r.members, userID)
	default:
		return
	}

	r.notifyLater(func() {
		for _, observer := range r.session.copyMemberObservers() {
			observer(r, userID, membership)
		}
	})
}

func handleNameEvent(r *Room, event Event) {
	r.name = contentString(event.Content, "name")
	r.notifyMetadata()
}

func handleTopicEvent(r *Room, event Event) {
	r.topic = contentString(event.Content, "topic")
	r.notifyMetadata()
}

func handleCanonicalAliasEvent(r *Room, event Event) {
	r.canonicalAlias = ref.RoomAlias{}
	if raw := contentString(event.Content, "alias"); raw != "" {
		alias, err := ref.ParseRoomAlias(raw)
		if err != nil {
			r.session.client.logger.Warn("invalid canonical alias",
				"room_id", r.id,
				"alias", raw,
				"error", err,
			)
		} else {
			r.canonicalAlias = alias
		}
	}
	r.aliases = appendAliases(r, nil, event.Content["alt_aliases"])
	r.notifyMetadata()
}

func handleAliasesEvent(r *Room, event Event) {
	r.aliases = appendAliases(r, nil, event.Content["aliases"])
	r.notifyMetadata()
}

// handleRedactionEvent blanks the content of the redacted event in the
// timeline log. The redaction event itself was already appended by the
// timeline handler, so consumers still observe that a redaction
// happened.
func handleRedactionEvent(r *Room, event Event) {
	if event.Redacts.IsZero() {
		return
	}
	// Scan newest to oldest; redactions overwhelmingly target recent
	// events.
	for i := len(r.timeline.events) - 1; i >= 0; i-- {
		if r.timeline.events[i].EventID == event.Redacts {
			r.timeline.events[i].Content = map[string]any{}
			return
		}
	}
}

func (r *Room) notifyMetadata() {
	r.notifyLater(func() {
		for _, observer := range r.session.copyMetadataObservers() {
			observer(r)
		}
	})
}

// contentString extracts a string field from untyped event content,
// empty when absent or not a string.
func contentString(content map[string]any, key string) string {
	value, _ := content[key].(string)
	return value
}

// appendAliases parses a JSON list of alias strings from event
// content, logging and skipping entries that do not parse.
func appendAliases(r *Room, aliases []ref.RoomAlias, raw any) []ref.RoomAlias {
	list, ok := raw.([]any)
	if !ok {
		return aliases
	}
	for _, entry := range list {
		text, ok := entry.(string)
		if !ok {
			continue
		}
		alias, err := ref.ParseRoomAlias(text)
		if err != nil {
			r.session.client.logger.Warn("invalid room alias",
				"room_id", r.id,
				"alias", text,
				"error", err,
			)
			continue
		}
		aliases = append(aliases, alias)
	}
	return aliases
}
