// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package appservice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crosswire-im/crosswire/lib/testutil"
)

// orderSink records dispatch order per room and optionally stalls
// dispatches for a chosen room.
type orderSink struct {
	fakeSink

	mu      sync.Mutex
	byRoom  map[string][]string
	stall   string // room ID whose dispatches block on release
	release chan struct{}
}

func newOrderSink() *orderSink {
	return &orderSink{
		byRoom:  make(map[string][]string),
		release: make(chan struct{}),
	}
}

func (o *orderSink) Event(ctx context.Context, req *Request) {
	event := req.Event()
	if event.RoomID == o.stall {
		<-o.release
	}
	o.mu.Lock()
	o.byRoom[event.RoomID] = append(o.byRoom[event.RoomID], event.ID)
	o.mu.Unlock()
	req.Resolve()
}

func (o *orderSink) dispatched(roomID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.byRoom[roomID]...)
}

func TestQueuePreservesRoomOrder(t *testing.T) {
	sink := newOrderSink()
	queues := newRoomQueues(sink, testLogger())
	defer queues.Close()

	const n = 50
	for i := range n {
		event := Event{ID: fmt.Sprintf("$e%d", i), RoomID: "!room:example.org"}
		if err := queues.Enqueue(context.Background(), NewRequest(event)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, "all events dispatched", func() bool {
		return len(sink.dispatched("!room:example.org")) == n
	})
	for i, id := range sink.dispatched("!room:example.org") {
		if want := fmt.Sprintf("$e%d", i); id != want {
			t.Fatalf("position %d: got %s, want %s", i, id, want)
		}
	}
}

func TestQueueRoomsIndependent(t *testing.T) {
	sink := newOrderSink()
	sink.stall = "!slow:example.org"
	queues := newRoomQueues(sink, testLogger())
	defer func() {
		close(sink.release)
		queues.Close()
	}()

	slow := NewRequest(Event{ID: "$slow", RoomID: "!slow:example.org"})
	fast := NewRequest(Event{ID: "$fast", RoomID: "!fast:example.org"})
	if err := queues.Enqueue(context.Background(), slow); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := queues.Enqueue(context.Background(), fast); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The stalled room must not hold up the other room's worker.
	waitFor(t, "fast room dispatched", func() bool {
		return len(sink.dispatched("!fast:example.org")) == 1
	})
	if got := sink.dispatched("!slow:example.org"); len(got) != 0 {
		t.Errorf("stalled room dispatched %v before release", got)
	}
}

func TestQueueEnqueueHonorsContext(t *testing.T) {
	sink := newOrderSink()
	sink.stall = "!room:example.org"
	queues := newRoomQueues(sink, testLogger())
	defer func() {
		close(sink.release)
		queues.Close()
	}()

	// One dispatch in flight plus a full buffer leaves no room for more.
	for i := range queueDepth + 1 {
		event := Event{ID: fmt.Sprintf("$e%d", i), RoomID: "!room:example.org"}
		if err := queues.Enqueue(context.Background(), NewRequest(event)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := queues.Enqueue(ctx, NewRequest(Event{ID: "$overflow", RoomID: "!room:example.org"}))
	if err == nil {
		t.Fatal("Enqueue into a full queue with an expired context succeeded")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	sink := newOrderSink()
	queues := newRoomQueues(sink, testLogger())

	const n = 20
	for i := range n {
		event := Event{ID: fmt.Sprintf("$e%d", i), RoomID: "!room:example.org"}
		if err := queues.Enqueue(context.Background(), NewRequest(event)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	queues.Close()

	if got := len(sink.dispatched("!room:example.org")); got != n {
		t.Errorf("dispatched %d events after Close, want %d", got, n)
	}
}

func TestQueueCloseUnblocksFullQueueSender(t *testing.T) {
	roomID := testutil.UniqueID("!busy") + ":example.org"
	sink := newOrderSink()
	sink.stall = roomID
	queues := newRoomQueues(sink, testLogger())

	// One dispatch parked in the sink plus a full buffer.
	for i := range queueDepth + 1 {
		event := Event{ID: fmt.Sprintf("$e%d", i), RoomID: roomID}
		if err := queues.Enqueue(context.Background(), NewRequest(event)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	enqueueErr := make(chan error, 1)
	go func() {
		req := NewRequest(Event{ID: "$blocked", RoomID: roomID})
		enqueueErr <- queues.Enqueue(context.Background(), req)
	}()

	closed := make(chan struct{})
	go func() {
		// Give the sender time to park on the full queue before
		// closing under it.
		time.Sleep(20 * time.Millisecond)
		queues.Close()
		close(closed)
	}()

	err := testutil.RequireReceive(t, enqueueErr, 5*time.Second, "enqueue blocked on a full queue")
	if err == nil {
		t.Fatal("Enqueue into closing queues succeeded")
	}

	// Let the parked dispatch finish, then drain the rest so Close
	// can return.
	testutil.RequireSend(t, sink.release, struct{}{}, 5*time.Second, "releasing the parked dispatch")
	close(sink.release)
	testutil.RequireClosed(t, closed, 5*time.Second, "Close returning after the worker drained")

	if got := len(sink.dispatched(roomID)); got != queueDepth+1 {
		t.Errorf("dispatched %d events after Close, want %d", got, queueDepth+1)
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	queues := newRoomQueues(newOrderSink(), testLogger())
	queues.Close()

	err := queues.Enqueue(context.Background(), NewRequest(Event{ID: "$late", RoomID: "!room:example.org"}))
	if err == nil {
		t.Fatal("Enqueue after Close succeeded")
	}
}

func TestRequestOutcome(t *testing.T) {
	req := NewRequest(Event{ID: "$e"})
	if err := req.Err(); err != nil {
		t.Fatalf("Err before outcome = %v", err)
	}
	select {
	case <-req.Done():
		t.Fatal("Done closed before outcome")
	default:
	}

	req.Reject(fmt.Errorf("handler failed"))
	req.Resolve() // later outcomes ignored

	<-req.Done()
	if err := req.Err(); err == nil || err.Error() != "handler failed" {
		t.Errorf("Err = %v, want handler failed", err)
	}
}

func TestRequestRejectNil(t *testing.T) {
	req := NewRequest(Event{ID: "$e"})
	req.Reject(nil)
	<-req.Done()
	if req.Err() == nil {
		t.Error("Reject(nil) left no recorded failure")
	}
}
