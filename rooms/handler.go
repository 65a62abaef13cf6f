// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package rooms answers the homeserver's directory queries for the
// bridge's alias namespace and keeps the alias→room links current.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/matrix"
	"github.com/crosswire-im/crosswire/store"
)

// Creation content keys recording which Discord channel a bridged
// room mirrors. Clients and later bridge versions read these to
// recognize bridged rooms without a store lookup.
const (
	creationGuildKey   = "im.crosswire.discord.guild"
	creationChannelKey = "im.crosswire.discord.channel"
)

// ChannelInfo is what the gateway knows about a Discord channel,
// used to seed the provisioned room's visible state.
type ChannelInfo struct {
	GuildName   string
	ChannelName string
	Topic       string
}

// ChannelResolver looks up live channel metadata. The Discord
// gateway implements it; nil means provisioned rooms get placeholder
// names.
type ChannelResolver interface {
	// ResolveChannel returns nil info (and nil error) when the
	// channel does not exist on the remote side.
	ResolveChannel(ctx context.Context, guildID, channelID string) (*ChannelInfo, error)
}

// HandlerConfig configures the alias directory handler.
type HandlerConfig struct {
	// Stores provides the room-link store.
	Stores *store.Stores

	// Resolver supplies channel metadata for room provisioning.
	// Optional.
	Resolver ChannelResolver

	// Logger for directory decisions. Nil means slog.Default().
	Logger *slog.Logger
}

// Handler owns the alias side of the bridge: it decides which
// aliases the bridge serves, describes the rooms that should back
// them, and records the links the homeserver confirms.
type Handler struct {
	config HandlerConfig
}

// NewHandler validates the configuration.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Stores == nil {
		return nil, errors.New("rooms: Stores is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Handler{config: config}, nil
}

// Init opens the shared stores. Safe to call alongside other
// components holding the same stores.
func (h *Handler) Init(ctx context.Context) error {
	return h.config.Stores.Init(ctx)
}

// AliasQuery decides whether the bridge serves the alias. Aliases
// outside the bridge's localpart scheme report absence rather than
// an error: the homeserver routes every exclusive-namespace miss
// here, and most are simply not ours to answer.
func (h *Handler) AliasQuery(ctx context.Context, alias matrix.RoomAlias) (*appservice.RoomProvision, error) {
	guildID, channelID, err := ParseAliasLocalpart(alias.Localpart())
	if err != nil {
		return nil, nil
	}

	// A query for an alias we already linked means the homeserver
	// lost the room (purge, reset). Provision a fresh room; the
	// confirmation will overwrite the stale link.
	if existing, err := h.config.Stores.Rooms.ByAlias(ctx, alias); err != nil {
		return nil, fmt.Errorf("checking existing link for %s: %w", alias, err)
	} else if existing != nil {
		h.config.Logger.Warn("re-provisioning previously linked alias",
			"alias", alias.String(), "stale_room_id", existing.RoomID.String())
	}

	provision := &appservice.RoomProvision{
		Name: fmt.Sprintf("discord-%s-%s", guildID, channelID),
		CreationContent: map[string]any{
			creationGuildKey:   guildID,
			creationChannelKey: channelID,
		},
	}

	if h.config.Resolver != nil {
		info, err := h.config.Resolver.ResolveChannel(ctx, guildID, channelID)
		if err != nil {
			return nil, fmt.Errorf("resolving channel %s/%s: %w", guildID, channelID, err)
		}
		if info == nil {
			// Parseable alias, but the channel is gone on the
			// Discord side. Nothing to provision.
			h.config.Logger.Info("alias query for missing channel",
				"alias", alias.String(), "guild_id", guildID, "channel_id", channelID)
			return nil, nil
		}
		provision.Name = fmt.Sprintf("#%s (%s)", info.ChannelName, info.GuildName)
		provision.Topic = info.Topic
	}

	h.config.Logger.Info("provisioning room for alias",
		"alias", alias.String(), "guild_id", guildID, "channel_id", channelID)
	return provision, nil
}

// AliasQueried persists the link for a room the homeserver just
// materialized. An alias outside the bridge's scheme here is a bug:
// AliasQuery only provisions parseable aliases.
func (h *Handler) AliasQueried(ctx context.Context, alias matrix.RoomAlias, roomID matrix.RoomID) error {
	guildID, channelID, err := ParseAliasLocalpart(alias.Localpart())
	if err != nil {
		return fmt.Errorf("confirmed alias %s: %w", alias, err)
	}

	err = h.config.Stores.Rooms.Save(ctx, store.Link{
		RoomID:    roomID,
		Alias:     alias,
		GuildID:   guildID,
		ChannelID: channelID,
	})
	if err != nil {
		return fmt.Errorf("linking %s to %s: %w", alias, roomID, err)
	}

	h.config.Logger.Info("room linked",
		"alias", alias.String(), "room_id", roomID.String(),
		"guild_id", guildID, "channel_id", channelID)
	return nil
}

// ThirdPartyLookup serves the static descriptor for the bridged
// protocol. Anything else is absence.
func (h *Handler) ThirdPartyLookup(ctx context.Context, protocol string) (*appservice.ProtocolDescriptor, error) {
	if protocol != appservice.Protocol {
		return nil, nil
	}
	return discordDescriptor(), nil
}

// discordDescriptor builds the client-server API protocol metadata.
// Built per call so callers cannot mutate shared state.
func discordDescriptor() *appservice.ProtocolDescriptor {
	return &appservice.ProtocolDescriptor{
		UserFields:     []string{"username"},
		LocationFields: []string{"guild_id", "channel_id"},
		Icon:           "mxc://crosswire.im/discord",
		FieldTypes: map[string]appservice.FieldType{
			"username": {
				Regexp:      `[A-Za-z0-9_.]{2,32}`,
				Placeholder: "username",
			},
			"guild_id": {
				Regexp:      `[0-9]+`,
				Placeholder: "guild id",
			},
			"channel_id": {
				Regexp:      `[0-9]+`,
				Placeholder: "channel id",
			},
		},
		Instances: []appservice.ProtocolInstance{
			{
				Description: "Discord",
				NetworkID:   "discord",
				Fields:      map[string]any{},
			},
		},
	}
}

// ParseAliasLocalpart splits a bridge alias localpart of the form
// "_discord_<guild>_<channel>" into its snowflake IDs. Both IDs are
// decimal; the fixed separator cannot collide with them.
func ParseAliasLocalpart(localpart string) (guildID, channelID string, err error) {
	rest, ok := strings.CutPrefix(localpart, appservice.NamespacePrefix)
	if !ok {
		return "", "", fmt.Errorf("rooms: localpart %q is outside the bridge namespace", localpart)
	}
	guildID, channelID, ok = strings.Cut(rest, "_")
	if !ok {
		return "", "", fmt.Errorf("rooms: localpart %q is missing the channel ID", localpart)
	}
	if !isSnowflake(guildID) || !isSnowflake(channelID) {
		return "", "", fmt.Errorf("rooms: localpart %q does not name a guild/channel pair", localpart)
	}
	return guildID, channelID, nil
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
