// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"log/slog"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/dispatch"
	"github.com/crosswire-im/crosswire/gateway"
	"github.com/crosswire-im/crosswire/matrix"
	"github.com/crosswire-im/crosswire/rooms"
)

// handlerSet composes the handler-owning components into the closed
// dispatch surface: alias and protocol concerns go to the channel
// handler, event relay to the gateway bot, listener narration to the
// process logger. The explicit delegation (instead of embedding) keeps
// the compile-time check on dispatch.Handlers honest: adding a hook
// breaks this type until someone decides which component owns it.
type handlerSet struct {
	channels *rooms.Handler
	bot      *gateway.Bot
	logger   *slog.Logger
}

var _ dispatch.Handlers = (*handlerSet)(nil)

func (h *handlerSet) AliasQuery(ctx context.Context, alias matrix.RoomAlias) (*appservice.RoomProvision, error) {
	return h.channels.AliasQuery(ctx, alias)
}

func (h *handlerSet) AliasQueried(ctx context.Context, alias matrix.RoomAlias, roomID matrix.RoomID) error {
	return h.channels.AliasQueried(ctx, alias, roomID)
}

func (h *handlerSet) Event(ctx context.Context, event appservice.Event) error {
	return h.bot.Event(ctx, event)
}

// Log forwards listener narration straight to the process logger.
// Error lines surface at Error severity, the rest at Debug; no
// isolation wrapper, since writing a log line cannot fail.
func (h *handlerSet) Log(line string, isError bool) {
	if isError {
		h.logger.Error(line)
	} else {
		h.logger.Debug(line)
	}
}

func (h *handlerSet) ThirdPartyLookup(ctx context.Context, protocol string) (*appservice.ProtocolDescriptor, error) {
	return h.channels.ThirdPartyLookup(ctx, protocol)
}
