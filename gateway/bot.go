// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/matrix"
	"github.com/crosswire-im/crosswire/rooms"
	"github.com/crosswire-im/crosswire/store"
)

// relayTimeout bounds one Discord→Matrix relay, ghost provisioning
// included. Discord redelivers nothing, so a hung homeserver call
// must not pin the session's event goroutines forever.
const relayTimeout = 30 * time.Second

// BotConfig configures the gateway bot.
type BotConfig struct {
	// Token is the Discord bot token.
	Token string

	// Registration identifies the bridge's namespace for echo
	// suppression.
	Registration *appservice.Registration

	// Domain is the homeserver domain ghost user IDs live under.
	Domain string

	// Clients mints Matrix intents for the bot and its ghosts.
	Clients *matrix.ClientFactory

	// Stores provides the link and ghost stores.
	Stores *store.Stores

	// Dial builds the Discord client. Nil means DialDiscord.
	Dial DialFunc

	// Logger for relay traffic. Nil means slog.Default().
	Logger *slog.Logger
}

// Bot owns the Discord session and relays messages in both
// directions. Construction dials the client without connecting; Run
// opens the session.
type Bot struct {
	config BotConfig
	client Client
	logger *slog.Logger

	connected atomic.Bool

	// selfID is the bridge's own Discord user ID, learned at Ready.
	// Messages it authored are echoes of this bridge's relays.
	selfMu sync.Mutex
	selfID string
}

// NewBot validates the configuration and dials the Discord client.
func NewBot(config BotConfig) (*Bot, error) {
	if config.Token == "" {
		return nil, errors.New("gateway: Token is required")
	}
	if config.Registration == nil {
		return nil, errors.New("gateway: Registration is required")
	}
	if config.Domain == "" {
		return nil, errors.New("gateway: Domain is required")
	}
	if config.Clients == nil {
		return nil, errors.New("gateway: Clients is required")
	}
	if config.Stores == nil {
		return nil, errors.New("gateway: Stores is required")
	}
	if config.Dial == nil {
		config.Dial = DialDiscord
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	bot := &Bot{
		config: config,
		logger: config.Logger,
	}
	client, err := config.Dial(config.Token, Events{
		Ready:      bot.handleReady,
		Resumed:    bot.handleResumed,
		Message:    bot.handleMessage,
		Disconnect: bot.handleDisconnect,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: dialing: %w", err)
	}
	bot.client = client
	return bot, nil
}

// Init opens the shared stores. Safe to call alongside other
// components holding the same stores.
func (b *Bot) Init(ctx context.Context) error {
	return b.config.Stores.Init(ctx)
}

// Run opens the gateway session. It returns once the session is
// established; event delivery runs on the client's own goroutines.
func (b *Bot) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := b.client.Open(); err != nil {
		return err
	}
	b.logger.Info("gateway session open")
	return nil
}

// Close tears the session down.
func (b *Bot) Close() error {
	b.connected.Store(false)
	return b.client.Close()
}

// Connected reports whether the gateway session is currently
// established.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// ResolveChannel implements rooms.ChannelResolver over the Discord
// REST API.
func (b *Bot) ResolveChannel(ctx context.Context, guildID, channelID string) (*rooms.ChannelInfo, error) {
	return b.client.ResolveChannel(ctx, guildID, channelID)
}

// Event relays a Matrix room message to its linked Discord channel.
// Events from the bridge's own namespace are echoes of the other
// direction and are dropped; everything that is not a message in a
// linked room is ignored.
func (b *Bot) Event(ctx context.Context, event appservice.Event) error {
	if event.Type != "m.room.message" {
		return nil
	}
	if b.config.Registration.OwnsUser(event.Sender) {
		return nil
	}
	if len(event.Content) == 0 {
		return nil
	}

	var content matrix.MessageContent
	if err := json.Unmarshal(event.Content, &content); err != nil {
		return fmt.Errorf("parsing content of %s: %w", event.ID, err)
	}
	if content.Body == "" {
		// Redacted or non-text content; nothing to relay.
		return nil
	}

	roomID, err := matrix.ParseRoomID(event.RoomID)
	if err != nil {
		return fmt.Errorf("event %s: %w", event.ID, err)
	}
	link, err := b.config.Stores.Rooms.ByRoomID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("looking up link for %s: %w", roomID, err)
	}
	if link == nil {
		return nil
	}

	if err := b.client.SendMessage(ctx, link.ChannelID, content.Body); err != nil {
		return fmt.Errorf("relaying %s to channel %s: %w", event.ID, link.ChannelID, err)
	}
	b.logger.Debug("relayed to discord",
		"event_id", event.ID, "room_id", event.RoomID, "channel_id", link.ChannelID)
	return nil
}

func (b *Bot) handleReady(selfID string) {
	b.selfMu.Lock()
	b.selfID = selfID
	b.selfMu.Unlock()
	b.connected.Store(true)
	b.logger.Info("gateway ready", "self_id", selfID)
}

func (b *Bot) handleResumed() {
	b.connected.Store(true)
	b.logger.Info("gateway session resumed")
}

func (b *Bot) handleDisconnect() {
	b.connected.Store(false)
	b.logger.Warn("gateway session lost")
}

// handleMessage relays one Discord message to Matrix. It runs on the
// client's event goroutine; failures are logged here because Discord
// offers no acknowledgment to report into.
func (b *Bot) handleMessage(msg Message) {
	if msg.AuthorID == b.currentSelfID() {
		return
	}
	// Skipping every bot author also covers other bridges in the same
	// channel, which would otherwise loop relayed messages back.
	if msg.AuthorBot {
		return
	}
	if msg.Content == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	if err := b.relayToMatrix(ctx, msg); err != nil {
		b.logger.Error("relaying discord message",
			"guild_id", msg.GuildID,
			"channel_id", msg.ChannelID,
			"author_id", msg.AuthorID,
			"error", err)
	}
}

func (b *Bot) relayToMatrix(ctx context.Context, msg Message) error {
	link, err := b.config.Stores.Rooms.ByChannel(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		return fmt.Errorf("looking up link: %w", err)
	}
	if link == nil {
		return nil
	}

	ghost, err := b.syncGhost(ctx, msg)
	if err != nil {
		return err
	}

	intent := b.config.Clients.User(ghost.UserID)
	content := matrix.MessageContent{MsgType: "m.text", Body: msg.Content}
	_, err = intent.SendMessage(ctx, link.RoomID, content)
	if matrix.IsError(err, matrix.ErrCodeForbidden) {
		// First message from this ghost into the room.
		if err := intent.JoinRoom(ctx, link.RoomID); err != nil {
			return fmt.Errorf("joining %s as %s: %w", link.RoomID, ghost.UserID, err)
		}
		_, err = intent.SendMessage(ctx, link.RoomID, content)
	}
	if err != nil {
		return fmt.Errorf("sending to %s as %s: %w", link.RoomID, ghost.UserID, err)
	}

	b.logger.Debug("relayed to matrix",
		"channel_id", msg.ChannelID, "room_id", link.RoomID.String(), "ghost", ghost.UserID.String())
	return nil
}

// syncGhost brings the author's ghost account up to date: registered
// on the homeserver, display name current, avatar fingerprint
// recorded. The store carries what the homeserver already knows, so
// an unchanged profile costs no round trips.
func (b *Bot) syncGhost(ctx context.Context, msg Message) (*store.Ghost, error) {
	userID, err := b.ghostUserID(msg.AuthorID)
	if err != nil {
		return nil, err
	}

	current, err := b.config.Stores.Users.ByRemoteID(ctx, msg.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("looking up ghost %s: %w", msg.AuthorID, err)
	}

	intent := b.config.Clients.User(userID)
	if current == nil || !current.Registered {
		if err := intent.EnsureRegistered(ctx); err != nil {
			return nil, fmt.Errorf("registering ghost %s: %w", userID, err)
		}
	}

	if msg.AuthorName != "" && (current == nil || current.DisplayName != msg.AuthorName) {
		if err := intent.SetDisplayName(ctx, msg.AuthorName); err != nil {
			return nil, fmt.Errorf("naming ghost %s: %w", userID, err)
		}
	}

	ghost := store.Ghost{
		RemoteID:          msg.AuthorID,
		UserID:            userID,
		DisplayName:       msg.AuthorName,
		AvatarFingerprint: avatarFingerprint(msg.AvatarURL),
		Registered:        true,
	}
	if current != nil && current.AvatarFingerprint != ghost.AvatarFingerprint {
		b.logger.Debug("ghost avatar changed", "ghost", userID.String())
	}

	changed := current == nil ||
		!current.Registered ||
		current.DisplayName != ghost.DisplayName ||
		current.AvatarFingerprint != ghost.AvatarFingerprint
	if changed {
		if err := b.config.Stores.Users.Save(ctx, ghost); err != nil {
			return nil, fmt.Errorf("saving ghost %s: %w", msg.AuthorID, err)
		}
	}
	return &ghost, nil
}

// ghostUserID derives the Matrix user ID puppeting a Discord user.
func (b *Bot) ghostUserID(authorID string) (matrix.UserID, error) {
	userID, err := matrix.ParseUserID("@" + appservice.NamespacePrefix + authorID + ":" + b.config.Domain)
	if err != nil {
		return matrix.UserID{}, fmt.Errorf("ghost for author %s: %w", authorID, err)
	}
	return userID, nil
}

func (b *Bot) currentSelfID() string {
	b.selfMu.Lock()
	defer b.selfMu.Unlock()
	return b.selfID
}

// avatarFingerprint hashes the avatar URL. Discord embeds the
// avatar's content hash in the URL, so a stable fingerprint means an
// unchanged avatar.
func avatarFingerprint(url string) string {
	if url == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
