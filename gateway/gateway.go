// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway owns the Discord side of the bridge: the gateway
// session, the message relay in both directions, and the ghost
// accounts that represent Discord users on the homeserver.
package gateway

import (
	"context"

	"github.com/crosswire-im/crosswire/rooms"
)

// Message is an inbound Discord message reduced to the fields the
// relay uses.
type Message struct {
	GuildID   string
	ChannelID string

	// AuthorID is the author's Discord snowflake, the key for the
	// author's ghost account.
	AuthorID string

	// AuthorName is the best display name for the author: server
	// nickname, then global name, then username.
	AuthorName string

	// AuthorBot marks bot accounts, the bridge's own included.
	AuthorBot bool

	// AvatarURL locates the author's current avatar. The URL embeds
	// Discord's content hash, so a changed avatar changes the URL.
	AvatarURL string

	Content string
}

// Events are the callbacks a dialed client delivers session events
// through. The dialer registers them before the session opens, so no
// event can arrive unhandled.
type Events struct {
	// Ready fires when the gateway session is established, with the
	// bridge's own Discord user ID.
	Ready func(selfID string)

	// Resumed fires when a dropped session is resumed without a
	// fresh Ready.
	Resumed func()

	// Message fires for every message created in a guild the bridge
	// can see.
	Message func(msg Message)

	// Disconnect fires when the session drops. The client reconnects
	// on its own; this only feeds connectivity reporting.
	Disconnect func()
}

// Client is a connected Discord session. The production
// implementation wraps discordgo; tests supply fakes.
type Client interface {
	// Open establishes the gateway session and starts delivering
	// events.
	Open() error

	// Close tears the session down.
	Close() error

	// SendMessage posts plain text to a channel.
	SendMessage(ctx context.Context, channelID, content string) error

	// ResolveChannel fetches live channel metadata over the REST API,
	// usable before Open. Nil info means the channel does not exist.
	ResolveChannel(ctx context.Context, guildID, channelID string) (*rooms.ChannelInfo, error)
}

// DialFunc builds a Client for a bot token with the given event
// callbacks wired. Dialing performs no network I/O; the session
// connects on Open.
type DialFunc func(token string, events Events) (Client, error)
