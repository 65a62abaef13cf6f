// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package appservice

import (
	"context"

	"github.com/crosswire-im/crosswire/matrix"
)

// EventSink is the dispatch surface the listener pushes into. The
// production implementation is the dispatch controller; tests supply
// fakes.
//
// Query hooks return nil for absence. The listener cannot tell a
// handler failure from a genuine miss, which is intentional: handler
// failures are contained inside the sink and the homeserver sees a
// plain not-found.
type EventSink interface {
	// AliasQuery resolves a queried alias that does not exist yet
	// into provisioning data for the room that should back it. Nil
	// means the alias is not served by this bridge.
	AliasQuery(ctx context.Context, alias matrix.RoomAlias) *RoomProvision

	// AliasQueried confirms that a provisioned alias now resolves to
	// the given room. Called after the room has been created.
	AliasQueried(ctx context.Context, alias matrix.RoomAlias, roomID matrix.RoomID)

	// Event dispatches one inbound event. The sink reports the
	// outcome through the request before returning; the caller never
	// sees a handler failure directly.
	Event(ctx context.Context, req *Request)

	// UserQuery resolves a queried user in the bridge namespace.
	// Reserved: the production controller always reports absence.
	UserQuery(ctx context.Context, userID matrix.UserID) *UserProvision

	// Log forwards a listener log line at verbose severity.
	Log(line string, isError bool)

	// ThirdPartyLookup describes a supported third-party protocol,
	// nil if the protocol is not served here.
	ThirdPartyLookup(ctx context.Context, protocol string) *ProtocolDescriptor
}

// RoomCreator materializes homeserver rooms for provisioned aliases.
// The Matrix client factory's bot intent satisfies it.
type RoomCreator interface {
	CreateRoom(ctx context.Context, req matrix.CreateRoomRequest) (matrix.RoomID, error)
}

// RoomProvision describes the room the bridge wants created for a
// queried alias.
type RoomProvision struct {
	// Name and Topic seed the visible room state.
	Name  string
	Topic string

	// CreationContent is merged into the m.room.create event,
	// marking the room as bridged and recording the remote channel.
	CreationContent map[string]any
}

// UserProvision describes a ghost user to be materialized for a
// queried user ID. Unused today; the user query hook is reserved.
type UserProvision struct {
	DisplayName string
}

// ProtocolDescriptor is the response body for third-party protocol
// queries, in the shape the client-server API expects.
type ProtocolDescriptor struct {
	UserFields     []string             `json:"user_fields"`
	LocationFields []string             `json:"location_fields"`
	Icon           string               `json:"icon"`
	FieldTypes     map[string]FieldType `json:"field_types"`
	Instances      []ProtocolInstance   `json:"instances"`
}

// FieldType documents one query field of a third-party protocol.
type FieldType struct {
	Regexp      string `json:"regexp"`
	Placeholder string `json:"placeholder"`
}

// ProtocolInstance is one reachable network behind a protocol.
type ProtocolInstance struct {
	Description string         `json:"desc"`
	NetworkID   string         `json:"network_id"`
	Fields      map[string]any `json:"fields"`
}
