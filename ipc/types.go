// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"github.com/crosswire-im/crosswire/dispatch"
	"github.com/crosswire-im/crosswire/matrix"
)

// Action names routed by the admin socket. The CLI sends these; the
// bridge registers a handler for each before the socket starts
// accepting connections.
const (
	ActionPing   = "ping"
	ActionStatus = "status"
)

// PingReply is the response to the "ping" action. Receiving one at all
// proves the bridge process is alive and its socket goroutine is
// draining requests; the payload adds nothing beyond confirmation.
type PingReply struct {
	Pong bool `cbor:"pong" json:"pong"`
}

// StatusReply is the response to the "status" action: a point-in-time
// snapshot assembled from the startup sequencer, the dispatch counters,
// the link and ghost stores, and the gateway connection state.
//
// Fields carry both cbor tags (the socket wire format) and json tags
// (the CLI re-encodes the same struct for --json output).
type StatusReply struct {
	// State is the highest startup state the bridge has reached,
	// "running" once startup completed.
	State string `cbor:"state" json:"state"`

	// UptimeSeconds counts from the moment the bridge entered the
	// running state. Zero while startup is still in progress.
	UptimeSeconds int64 `cbor:"uptime_seconds" json:"uptime_seconds"`

	// RegistrationFingerprint identifies the loaded registration
	// descriptor so an operator can check it against the copy
	// installed on the homeserver without comparing secrets directly.
	RegistrationFingerprint string `cbor:"registration_fingerprint" json:"registration_fingerprint"`

	// BotUserID is the bridge bot's full Matrix user ID.
	BotUserID matrix.UserID `cbor:"bot_user_id" json:"bot_user_id"`

	// GatewayConnected reports whether the Discord session currently
	// holds an open gateway connection. False during reconnect gaps.
	GatewayConnected bool `cbor:"gateway_connected" json:"gateway_connected"`

	// LinkedRooms and GhostUsers are row counts from the bridge
	// stores: channels with a provisioned Matrix room, and Discord
	// users with a minted ghost.
	LinkedRooms int64 `cbor:"linked_rooms" json:"linked_rooms"`
	GhostUsers  int64 `cbor:"ghost_users" json:"ghost_users"`

	// Hooks is the per-hook dispatch and failure counters, one entry
	// per handler hook in declaration order.
	Hooks []dispatch.HookStats `cbor:"hooks" json:"hooks"`
}
