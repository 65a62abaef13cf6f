// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package appservice

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Event is a single event from a homeserver transaction. The struct is
// deliberately lenient: IDs stay plain strings and content stays raw
// JSON, because the listener forwards events it does not understand
// rather than rejecting them.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Sender    string          `json:"sender"`
	StateKey  *string         `json:"state_key,omitempty"`
	Timestamp int64           `json:"origin_server_ts"`
	Content   json.RawMessage `json:"content"`
}

// Request carries one inbound event through dispatch and records its
// outcome. The transaction queue creates one per event; the event sink
// must call exactly one of Resolve or Reject before returning from its
// Event hook (later calls are ignored). The queue reads the outcome
// for its transaction bookkeeping, so handler failures surface in the
// listener's accounting rather than vanishing inside the sink.
type Request struct {
	event    Event
	received time.Time

	once sync.Once
	done chan struct{}
	err  error
}

// NewRequest wraps an event for dispatch.
func NewRequest(event Event) *Request {
	return &Request{
		event:    event,
		received: time.Now(),
		done:     make(chan struct{}),
	}
}

// Event returns the wrapped event.
func (r *Request) Event() Event { return r.event }

// Resolve marks the event as handled successfully.
func (r *Request) Resolve() { r.finish(nil) }

// Reject records the handling failure.
func (r *Request) Reject(err error) {
	if err == nil {
		err = errors.New("appservice: request rejected without cause")
	}
	r.finish(err)
}

func (r *Request) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done returns a channel closed once the request has an outcome.
func (r *Request) Done() <-chan struct{} { return r.done }

// Err returns the recorded failure. It is nil on success and nil
// before an outcome is recorded; check Done to distinguish.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Age returns how long the request has been in flight.
func (r *Request) Age() time.Duration { return time.Since(r.received) }
