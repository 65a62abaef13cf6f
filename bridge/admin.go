// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/crosswire-im/crosswire/ipc"
)

// handlePing answers the admin liveness probe. A reply at all is the
// signal; the payload carries no state.
func (b *Bridge) handlePing(_ context.Context, _ []byte) (any, error) {
	return ipc.PingReply{Pong: true}, nil
}

// handleStatus assembles the operator snapshot. Registered only after
// StateStoreInitialized, so every component it reads is non-nil.
func (b *Bridge) handleStatus(ctx context.Context, _ []byte) (any, error) {
	b.mu.Lock()
	state := b.state
	startedAt := b.startedAt
	b.mu.Unlock()

	reply := ipc.StatusReply{
		State:                   state.String(),
		RegistrationFingerprint: b.registration.Fingerprint(),
		BotUserID:               b.clients.BotUserID(),
		GatewayConnected:        b.bot.Connected(),
		Hooks:                   b.controller.Stats(),
	}
	if !startedAt.IsZero() {
		reply.UptimeSeconds = int64(time.Since(startedAt) / time.Second)
	}

	linked, err := b.stores.Rooms.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting room links: %w", err)
	}
	ghosts, err := b.stores.Users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting ghost users: %w", err)
	}
	reply.LinkedRooms = linked
	reply.GhostUsers = ghosts

	return reply, nil
}
