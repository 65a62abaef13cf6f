// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/crosswire-im/crosswire/rooms"
)

// DialDiscord is the production DialFunc. It configures a discordgo
// session for guild message traffic and wires the event callbacks.
func DialDiscord(token string, events Events) (Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("gateway: creating session: %w", err)
	}

	// Message content is a privileged intent; without it every
	// relayed body arrives empty.
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if events.Ready != nil {
			events.Ready(r.User.ID)
		}
	})
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Resumed) {
		if events.Resumed != nil {
			events.Resumed()
		}
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if events.Message == nil || m.Author == nil {
			return
		}
		events.Message(Message{
			GuildID:    m.GuildID,
			ChannelID:  m.ChannelID,
			AuthorID:   m.Author.ID,
			AuthorName: authorDisplayName(m),
			AuthorBot:  m.Author.Bot,
			AvatarURL:  m.Author.AvatarURL(""),
			Content:    m.Content,
		})
	})
	session.AddHandler(func(s *discordgo.Session, d *discordgo.Disconnect) {
		if events.Disconnect != nil {
			events.Disconnect()
		}
	})

	return &discordClient{session: session}, nil
}

type discordClient struct {
	session *discordgo.Session
}

func (c *discordClient) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("gateway: opening session: %w", err)
	}
	return nil
}

func (c *discordClient) Close() error {
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("gateway: closing session: %w", err)
	}
	return nil
}

func (c *discordClient) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gateway: sending to channel %s: %w", channelID, err)
	}
	return nil
}

func (c *discordClient) ResolveChannel(ctx context.Context, guildID, channelID string) (*rooms.ChannelInfo, error) {
	channel, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gateway: fetching channel %s: %w", channelID, err)
	}
	if channel.GuildID != guildID {
		// The alias names a channel that lives in a different guild;
		// treat the mismatch as absence rather than leaking it.
		return nil, nil
	}

	guild, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gateway: fetching guild %s: %w", guildID, err)
	}

	return &rooms.ChannelInfo{
		GuildName:   guild.Name,
		ChannelName: channel.Name,
		Topic:       channel.Topic,
	}, nil
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// authorDisplayName picks the most specific name Discord offers for
// a message author.
func authorDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
