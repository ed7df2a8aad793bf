// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lattice-im/lattice/lib/ref"
)

// sendTimeout bounds one send request on the wire.
const sendTimeout = 30 * time.Second

// synchronousSends switches the whole process into synchronous send
// mode, where Send completes the network request before returning
// instead of dispatching it on a goroutine. Timing changes, semantics
// do not.
var synchronousSends atomic.Bool

// SetSynchronous toggles synchronous send mode for the process. Meant
// for tests that want to assert on the request without racing a
// goroutine.
func SetSynchronous(on bool) {
	synchronousSends.Store(on)
}

// SendOpts adjusts a Send. The zero value sends a plain text message.
type SendOpts struct {
	// MsgType overrides the message type; empty means "m.text".
	MsgType string

	// TxnID overrides transaction id allocation, for resending a
	// message under its original id. Zero allocates a fresh id.
	TxnID int64

	// Extra is merged into the event content after msgtype and body,
	// for custom fields (formatted bodies, relations). Keys collide in
	// Extra's favor.
	Extra map[string]any

	// OnComplete, when non-nil, is called with the server-assigned
	// event id or the send error once the request finishes. Runs on
	// the send goroutine (or inline in synchronous mode).
	OnComplete func(eventID ref.EventID, err error)
}

// Send posts a message event to the room. The transaction id is
// allocated by an atomic increment of the session counter and returned
// immediately; the request itself runs on its own goroutine with a
// bounded timeout. Delivery is observed through the sync timeline, not
// through the send response. Retrying with the same transaction id
// (via SendOpts.TxnID) cannot duplicate the message server-side.
func (s *Session) Send(room *Room, body string, opts SendOpts) (int64, error) {
	token, err := s.token()
	if err != nil {
		return 0, err
	}

	txnID := opts.TxnID
	if txnID == 0 {
		txnID = s.txnCounter.Add(1)
	}

	msgType := opts.MsgType
	if msgType == "" {
		msgType = "m.text"
	}
	content := map[string]any{
		"msgtype": msgType,
		"body":    body,
	}
	for key, value := range opts.Extra {
		content[key] = value
	}

	path := "/_matrix/client/v3/rooms/" + url.PathEscape(room.ID().String()) +
		"/send/m.room.message/" + strconv.FormatInt(txnID, 10)

	issue := func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		responseBody, err := s.client.doRequest(ctx, http.MethodPut, path, token, content)
		if err != nil {
			s.client.logger.Error("send failed",
				"room_id", room.ID(),
				"txn_id", txnID,
				"error", err,
			)
			if opts.OnComplete != nil {
				opts.OnComplete(ref.EventID{}, err)
			}
			return
		}

		var response SendEventResponse
		if err := json.Unmarshal(responseBody, &response); err != nil {
			err = fmt.Errorf("messaging: failed to parse send response: %w", err)
			s.client.logger.Error("send failed",
				"room_id", room.ID(),
				"txn_id", txnID,
				"error", err,
			)
			if opts.OnComplete != nil {
				opts.OnComplete(ref.EventID{}, err)
			}
			return
		}

		s.client.logger.Debug("sent message",
			"room_id", room.ID(),
			"txn_id", txnID,
			"event_id", response.EventID,
		)
		if opts.OnComplete != nil {
			opts.OnComplete(response.EventID, nil)
		}
	}

	if synchronousSends.Load() {
		issue()
	} else {
		go issue()
	}
	return txnID, nil
}
