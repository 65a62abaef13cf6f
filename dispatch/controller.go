// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes appservice listener hooks to the bridge's
// handler components with per-call fault isolation. A handler error
// or panic is contained, logged and counted; it never unwinds into
// the listener's control flow.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/matrix"
)

// Hook identifies one of the dispatched operations.
type Hook int

const (
	HookAliasQueried Hook = iota
	HookAliasQuery
	HookEvent
	HookLog
	HookThirdPartyLookup

	hookCount
)

func (h Hook) String() string {
	switch h {
	case HookAliasQueried:
		return "alias_queried"
	case HookAliasQuery:
		return "alias_query"
	case HookEvent:
		return "event"
	case HookLog:
		return "log"
	case HookThirdPartyLookup:
		return "third_party_lookup"
	}
	return fmt.Sprintf("Hook(%d)", int(h))
}

// Handlers is the closed set of operations the bridge binds. A
// component set that misses one fails to compile, so an unbound
// handler cannot survive into a running process.
//
// Every handler except Log may return an error. The controller
// decides what an error means per hook; handlers just report.
type Handlers interface {
	// AliasQuery decides whether the bridge serves the alias. A nil
	// provision (with nil error) means the alias is not ours.
	AliasQuery(ctx context.Context, alias matrix.RoomAlias) (*appservice.RoomProvision, error)

	// AliasQueried records that the homeserver materialized a room
	// for a provisioned alias.
	AliasQueried(ctx context.Context, alias matrix.RoomAlias, roomID matrix.RoomID) error

	// Event handles one inbound room event.
	Event(ctx context.Context, event appservice.Event) error

	// Log receives the listener's narration lines. It must not fail.
	Log(line string, isError bool)

	// ThirdPartyLookup describes a bridged protocol, nil if the
	// protocol is not bridged here.
	ThirdPartyLookup(ctx context.Context, protocol string) (*appservice.ProtocolDescriptor, error)
}

// Outcome is the result of one isolated hook dispatch. Err carries
// the handler's error, or the synthesized error when the handler
// panicked.
type Outcome struct {
	Hook Hook
	Err  error
}

// HookStats is one hook's dispatch accounting, shaped for the admin
// status surface.
type HookStats struct {
	Hook       string `json:"hook" cbor:"hook"`
	Dispatches uint64 `json:"dispatches" cbor:"dispatches"`
	Failures   uint64 `json:"failures" cbor:"failures"`
}

type hookCounter struct {
	dispatches atomic.Uint64
	failures   atomic.Uint64
}

// Controller implements appservice.EventSink over a Handlers set. It
// is immutable after construction: the handlers are bound once and
// every dispatch goes through the same isolation wrapper.
type Controller struct {
	handlers Handlers
	logger   *slog.Logger
	counters [hookCount]hookCounter
}

var _ appservice.EventSink = (*Controller)(nil)

// NewController binds the handler set. Both arguments are mandatory:
// a controller without handlers has nothing to dispatch to, and one
// without a logger would make handler failures invisible.
func NewController(handlers Handlers, logger *slog.Logger) (*Controller, error) {
	if handlers == nil {
		return nil, errors.New("dispatch: Handlers are required")
	}
	if logger == nil {
		return nil, errors.New("dispatch: Logger is required")
	}
	return &Controller{handlers: handlers, logger: logger}, nil
}

// AliasQuery asks the handlers whether the bridge serves the alias.
// A handler failure is indistinguishable from absence to the caller;
// the failure itself is logged and counted here.
func (c *Controller) AliasQuery(ctx context.Context, alias matrix.RoomAlias) *appservice.RoomProvision {
	var provision *appservice.RoomProvision
	outcome := c.dispatch(HookAliasQuery, func() error {
		var err error
		provision, err = c.handlers.AliasQuery(ctx, alias)
		return err
	})
	if outcome.Err != nil {
		return nil
	}
	return provision
}

// AliasQueried tells the handlers a provisioned alias now has a room.
// Failures are swallowed after logging: the room already exists on
// the homeserver, so there is nobody upstream to report to.
func (c *Controller) AliasQueried(ctx context.Context, alias matrix.RoomAlias, roomID matrix.RoomID) {
	c.dispatch(HookAliasQueried, func() error {
		return c.handlers.AliasQueried(ctx, alias, roomID)
	})
}

// Event dispatches one inbound event. Unlike the query hooks, the
// request has a formal acknowledgment contract with the listener, so
// a handler failure is reported through the request's outcome rather
// than swallowed.
func (c *Controller) Event(ctx context.Context, req *appservice.Request) {
	outcome := c.dispatch(HookEvent, func() error {
		return c.handlers.Event(ctx, req.Event())
	})
	if outcome.Err != nil {
		req.Reject(outcome.Err)
		return
	}
	req.Resolve()
}

// UserQuery is a reserved extension point. Ghost accounts are
// registered on demand during relay, so user queries always report
// absence.
func (c *Controller) UserQuery(ctx context.Context, userID matrix.UserID) *appservice.UserProvision {
	return nil
}

// Log forwards without isolation. The logging path must not itself
// be able to fail, so wrapping it would only hide bugs.
func (c *Controller) Log(line string, isError bool) {
	c.counters[HookLog].dispatches.Add(1)
	c.handlers.Log(line, isError)
}

// ThirdPartyLookup describes a bridged protocol. Handler failures
// surface as absence, same as AliasQuery.
func (c *Controller) ThirdPartyLookup(ctx context.Context, protocol string) *appservice.ProtocolDescriptor {
	var descriptor *appservice.ProtocolDescriptor
	outcome := c.dispatch(HookThirdPartyLookup, func() error {
		var err error
		descriptor, err = c.handlers.ThirdPartyLookup(ctx, protocol)
		return err
	})
	if outcome.Err != nil {
		return nil
	}
	return descriptor
}

// Stats snapshots the per-hook counters in declaration order.
func (c *Controller) Stats() []HookStats {
	stats := make([]HookStats, 0, hookCount)
	for hook := Hook(0); hook < hookCount; hook++ {
		counter := &c.counters[hook]
		stats = append(stats, HookStats{
			Hook:       hook.String(),
			Dispatches: counter.dispatches.Load(),
			Failures:   counter.failures.Load(),
		})
	}
	return stats
}

// dispatch runs one hook under the isolation wrapper: the handler's
// error or panic is captured into the outcome, logged with the hook
// name and counted.
func (c *Controller) dispatch(hook Hook, fn func() error) Outcome {
	counter := &c.counters[hook]
	counter.dispatches.Add(1)

	err := protect(fn)
	if err != nil {
		counter.failures.Add(1)
		c.logger.Error("handler failed", "hook", hook.String(), "error", err)
	}
	return Outcome{Hook: hook, Err: err}
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn()
}
