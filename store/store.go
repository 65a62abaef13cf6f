// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists the bridge's room links and ghost accounts
// in SQLite. Both databases are plain files the bridge owns
// exclusively; there is no shared-writer coordination beyond SQLite's
// own locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Config locates the two databases.
type Config struct {
	// RoomPath is the room-link database file.
	RoomPath string

	// UserPath is the ghost-account database file.
	UserPath string

	// Logger for store lifecycle. Nil means slog.Default().
	Logger *slog.Logger
}

// Stores bundles the bridge's persistence. Multiple components hold
// the same Stores and each calls Init during startup; the first call
// opens the databases and later calls are no-ops, so initialization
// order between components does not matter.
type Stores struct {
	Rooms *RoomStore
	Users *UserStore

	config Config

	mu          sync.Mutex
	initialized bool
}

// New validates the configuration. The databases are not touched
// until Init.
func New(config Config) (*Stores, error) {
	if config.RoomPath == "" {
		return nil, errors.New("store: RoomPath is required")
	}
	if config.UserPath == "" {
		return nil, errors.New("store: UserPath is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Stores{
		Rooms:  &RoomStore{},
		Users:  &UserStore{},
		config: config,
	}, nil
}

// Init opens both databases and applies their schemas. Idempotent
// after the first success. A failure leaves the stores closed, and
// startup treats it as fatal.
func (s *Stores) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	roomPool, err := openPool(s.config.RoomPath, roomSchema, s.config.Logger)
	if err != nil {
		return fmt.Errorf("store: room database: %w", err)
	}
	userPool, err := openPool(s.config.UserPath, userSchema, s.config.Logger)
	if err != nil {
		roomPool.close()
		return fmt.Errorf("store: user database: %w", err)
	}

	// Connections initialize lazily, so force one per pool now. A
	// broken database fails startup here instead of the first relay.
	for _, p := range []*pool{roomPool, userPool} {
		conn, err := p.take(ctx)
		if err != nil {
			roomPool.close()
			userPool.close()
			return err
		}
		p.put(conn)
	}

	s.Rooms.pool = roomPool
	s.Users.pool = userPool
	s.initialized = true
	return nil
}

// Close releases both databases. Safe to call before Init or more
// than once.
func (s *Stores) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false

	err := errors.Join(s.Rooms.pool.close(), s.Users.pool.close())
	s.Rooms.pool = nil
	s.Users.pool = nil
	return err
}
