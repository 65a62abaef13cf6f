// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

// CreateRoomRequest is the body of POST /createRoom.
type CreateRoomRequest struct {
	Name            string         `json:"name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	AliasLocalpart  string         `json:"room_alias_name,omitempty"` // local alias without # or :server
	Visibility      string         `json:"visibility,omitempty"`      // "public" or "private"
	Preset          string         `json:"preset,omitempty"`          // "private_chat", "public_chat", "trusted_private_chat"
	Invite          []string       `json:"invite,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
	InitialState    []StateEvent   `json:"initial_state,omitempty"`
}

// StateEvent is a state event embedded in room creation.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// MessageContent is the content of an m.room.message event. The bridge
// relays plain bodies only; richer formatting fields pass through
// untouched inside the raw event content.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

type createRoomResponse struct {
	RoomID RoomID `json:"room_id"`
}

type resolveAliasResponse struct {
	RoomID  RoomID   `json:"room_id"`
	Servers []string `json:"servers,omitempty"`
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}

type whoamiResponse struct {
	UserID UserID `json:"user_id"`
}

type registerRequest struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	InhibitLogin bool   `json:"inhibit_login"`
}
