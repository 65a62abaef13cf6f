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

const userSchema = `
	CREATE TABLE IF NOT EXISTS ghosts (
		remote_id          TEXT NOT NULL PRIMARY KEY,
		user_id            TEXT NOT NULL UNIQUE,
		display_name       TEXT NOT NULL DEFAULT '',
		avatar_fingerprint TEXT NOT NULL DEFAULT '',
		registered         INTEGER NOT NULL DEFAULT 0,
		updated_at         INTEGER NOT NULL
	);
`

// Ghost is the bridge's record of one puppeted Matrix account. The
// registered flag and the profile fields let the relay skip
// homeserver round trips that would be no-ops.
type Ghost struct {
	// RemoteID is the Discord user ID the ghost puppets.
	RemoteID string

	// UserID is the ghost's Matrix user ID inside the bridge's
	// exclusive namespace.
	UserID matrix.UserID

	// DisplayName is the last profile name pushed to the homeserver.
	DisplayName string

	// AvatarFingerprint is a content hash of the last synced avatar,
	// hex encoded. Empty until an avatar has been synced.
	AvatarFingerprint string

	// Registered records that the ghost account exists on the
	// homeserver.
	Registered bool

	UpdatedAt time.Time
}

// UserStore persists ghost accounts. Obtain through Stores; usable
// after Init.
type UserStore struct {
	pool *pool
}

// Save upserts the ghost keyed by its remote ID.
func (s *UserStore) Save(ctx context.Context, ghost Ghost) error {
	if ghost.RemoteID == "" {
		return fmt.Errorf("store: ghost needs a remote ID")
	}
	if ghost.UserID.IsZero() {
		return fmt.Errorf("store: ghost needs a Matrix user ID")
	}
	updatedAt := ghost.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	registered := 0
	if ghost.Registered {
		registered = 1
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO ghosts (remote_id, user_id, display_name, avatar_fingerprint, registered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_id) DO UPDATE SET
			user_id = excluded.user_id,
			display_name = excluded.display_name,
			avatar_fingerprint = excluded.avatar_fingerprint,
			registered = excluded.registered,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				ghost.RemoteID,
				ghost.UserID.String(),
				ghost.DisplayName,
				ghost.AvatarFingerprint,
				registered,
				updatedAt.Unix(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: saving ghost %s: %w", ghost.RemoteID, err)
	}
	return nil
}

// ByRemoteID returns the ghost for a Discord user, nil if none has
// been created yet.
func (s *UserStore) ByRemoteID(ctx context.Context, remoteID string) (*Ghost, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var ghost *Ghost
	err = sqlitex.Execute(conn, `
		SELECT remote_id, user_id, display_name, avatar_fingerprint, registered, updated_at
		FROM ghosts WHERE remote_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{remoteID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanGhost(stmt)
				if err != nil {
					return err
				}
				ghost = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: querying ghost %s: %w", remoteID, err)
	}
	return ghost, nil
}

// Count returns the number of ghost accounts.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM ghosts", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: counting ghosts: %w", err)
	}
	return count, nil
}

func scanGhost(stmt *sqlite.Stmt) (*Ghost, error) {
	userID, err := matrix.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("store: stored ghost user ID: %w", err)
	}
	return &Ghost{
		RemoteID:          stmt.ColumnText(0),
		UserID:            userID,
		DisplayName:       stmt.ColumnText(2),
		AvatarFingerprint: stmt.ColumnText(3),
		Registered:        stmt.ColumnInt(4) != 0,
		UpdatedAt:         time.Unix(stmt.ColumnInt64(5), 0),
	}, nil
}
