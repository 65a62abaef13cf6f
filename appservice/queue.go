// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package appservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// queueDepth bounds each room's pending events. A full queue blocks
// the transaction request, pushing backpressure onto the homeserver's
// own retry schedule instead of buffering without limit.
const queueDepth = 64

// roomQueues fans transaction events into one worker per room. Events
// within a room dispatch strictly in arrival order; rooms are
// independent, so a slow handler in one room never stalls another.
//
// Workers live until Close. The homeserver only pushes events for
// rooms an appservice user occupies, which bounds the worker set to
// the bridged rooms.
type roomQueues struct {
	sink   EventSink
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	queues map[string]chan *Request
	closed bool

	senders sync.WaitGroup
	wg      sync.WaitGroup
}

func newRoomQueues(sink EventSink, logger *slog.Logger) *roomQueues {
	return &roomQueues{
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
		queues: make(map[string]chan *Request),
	}
}

// Enqueue hands the request to its room's worker, starting one on
// first use. Blocks while the room's queue is full until the request
// context is cancelled or the queues close. Returns an error after
// Close.
func (q *roomQueues) Enqueue(ctx context.Context, req *Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("appservice: event queues are closed")
	}
	roomID := req.Event().RoomID
	ch, ok := q.queues[roomID]
	if !ok {
		ch = make(chan *Request, queueDepth)
		q.queues[roomID] = ch
		q.wg.Add(1)
		go q.run(roomID, ch)
	}
	// Registered under the mutex so Close cannot close ch while this
	// send is pending.
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case ch <- req:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueueing event %s: %w", req.Event().ID, ctx.Err())
	case <-q.done:
		return errors.New("appservice: event queues are closed")
	}
}

// run dispatches one room's events in order. The sink reports each
// request's outcome before returning from Event, so completing the
// call is completing the dispatch.
func (q *roomQueues) run(roomID string, ch chan *Request) {
	defer q.wg.Done()
	for req := range ch {
		q.sink.Event(context.Background(), req)
		event := req.Event()
		if err := req.Err(); err != nil {
			q.logger.Debug("event dispatch failed",
				"room_id", roomID,
				"event_id", event.ID,
				"type", event.Type,
				"elapsed", req.Age(),
				"error", err)
			continue
		}
		q.logger.Debug("event dispatched",
			"room_id", roomID,
			"event_id", event.ID,
			"type", event.Type,
			"elapsed", req.Age())
	}
}

// Close stops accepting new events and waits for every in-flight
// dispatch to finish. Enqueue calls blocked on a full queue unblock
// with an error; the queue channels close only after the last such
// sender has left.
func (q *roomQueues) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.senders.Wait()
	q.mu.Lock()
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
