// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crosswire-im/crosswire/matrix"
)

const roomSchema = `
	CREATE TABLE IF NOT EXISTS links (
		guild_id   TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		room_id    TEXT NOT NULL UNIQUE,
		alias      TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (guild_id, channel_id)
	);
`

// Link ties one Matrix room to one Discord channel. Every relayed
// message resolves through a link in one direction or the other.
type Link struct {
	RoomID    matrix.RoomID
	Alias     matrix.RoomAlias
	GuildID   string
	ChannelID string
	CreatedAt time.Time
}

// RoomStore persists room links. Obtain through Stores; usable after
// Init.
type RoomStore struct {
	pool *pool
}

// Save inserts the link, replacing an earlier link for the same
// channel. Re-provisioning an alias after its room was abandoned
// lands here, so the channel key wins over the stale room ID.
func (s *RoomStore) Save(ctx context.Context, link Link) error {
	if link.RoomID.IsZero() || link.Alias.IsZero() {
		return fmt.Errorf("store: link needs both a room ID and an alias")
	}
	if link.GuildID == "" || link.ChannelID == "" {
		return fmt.Errorf("store: link needs both a guild ID and a channel ID")
	}
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO links (guild_id, channel_id, room_id, alias, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, channel_id) DO UPDATE SET
			room_id = excluded.room_id,
			alias = excluded.alias,
			created_at = excluded.created_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				link.GuildID,
				link.ChannelID,
				link.RoomID.String(),
				link.Alias.String(),
				createdAt.Unix(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: saving link for %s/%s: %w", link.GuildID, link.ChannelID, err)
	}
	return nil
}

// ByRoomID returns the link for a Matrix room, nil if the room is
// not bridged.
func (s *RoomStore) ByRoomID(ctx context.Context, roomID matrix.RoomID) (*Link, error) {
	return s.queryOne(ctx, "room_id = ?", roomID.String())
}

// ByAlias returns the link for an alias, nil if the alias is not
// bridged.
func (s *RoomStore) ByAlias(ctx context.Context, alias matrix.RoomAlias) (*Link, error) {
	return s.queryOne(ctx, "alias = ?", alias.String())
}

// ByChannel returns the link for a Discord channel, nil if the
// channel is not bridged.
func (s *RoomStore) ByChannel(ctx context.Context, guildID, channelID string) (*Link, error) {
	return s.queryOne(ctx, "guild_id = ? AND channel_id = ?", guildID, channelID)
}

// Count returns the number of bridged rooms.
func (s *RoomStore) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM links", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: counting links: %w", err)
	}
	return count, nil
}

func (s *RoomStore) queryOne(ctx context.Context, condition string, args ...any) (*Link, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var link *Link
	err = sqlitex.Execute(conn,
		"SELECT guild_id, channel_id, room_id, alias, created_at FROM links WHERE "+condition,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanLink(stmt)
				if err != nil {
					return err
				}
				link = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: querying link: %w", err)
	}
	return link, nil
}

func scanLink(stmt *sqlite.Stmt) (*Link, error) {
	roomID, err := matrix.ParseRoomID(stmt.ColumnText(2))
	if err != nil {
		return nil, fmt.Errorf("store: stored room ID: %w", err)
	}
	alias, err := matrix.ParseRoomAlias(stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("store: stored alias: %w", err)
	}
	return &Link{
		GuildID:   stmt.ColumnText(0),
		ChannelID: stmt.ColumnText(1),
		RoomID:    roomID,
		Alias:     alias,
		CreatedAt: time.Unix(stmt.ColumnInt64(4), 0),
	}, nil
}
