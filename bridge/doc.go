// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge assembles and sequences the Crosswire bridge process.
//
// Startup is an explicit eight-state machine: configuration, the
// registration descriptor, the Matrix client factory, the dispatch
// controller, the stores, the appservice listener, and the Discord
// gateway come up strictly in that order, each state a prerequisite
// for the next. Every transition is a named method on [Bridge] so it
// can fail, be logged, and be tested on its own. A failed transition
// releases whatever earlier states acquired and surfaces the error
// through [Bridge.Run] for a non-zero process exit; there is no retry
// at this layer.
//
// Once running, the process reacts only to inbound dispatch and to
// cancellation of the Run context, which drives shutdown in reverse
// order: gateway session, listener drain, admin socket, stores.
package bridge
