// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package rooms

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/matrix"
	"github.com/crosswire-im/crosswire/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubResolver struct {
	info *ChannelInfo
	err  error
}

func (s *stubResolver) ResolveChannel(ctx context.Context, guildID, channelID string) (*ChannelInfo, error) {
	return s.info, s.err
}

func newTestHandler(t *testing.T, resolver ChannelResolver) (*Handler, *store.Stores) {
	t.Helper()
	dir := t.TempDir()
	stores, err := store.New(store.Config{
		RoomPath: filepath.Join(dir, "rooms.db"),
		UserPath: filepath.Join(dir, "users.db"),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { stores.Close() })

	handler, err := NewHandler(HandlerConfig{
		Stores:   stores,
		Resolver: resolver,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if err := handler.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return handler, stores
}

func TestParseAliasLocalpart(t *testing.T) {
	cases := []struct {
		localpart string
		guildID   string
		channelID string
		wantErr   bool
	}{
		{"_discord_123_456", "123", "456", false},
		{"_discord_18446744073709551615_1", "18446744073709551615", "1", false},
		{"general", "", "", true},
		{"_discord_123", "", "", true},
		{"_discord_123_", "", "", true},
		{"_discord__456", "", "", true},
		{"_discord_abc_456", "", "", true},
		{"_discord_123_45x", "", "", true},
		{"_discord_123_456_789", "", "", true},
	}
	for _, c := range cases {
		guildID, channelID, err := ParseAliasLocalpart(c.localpart)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAliasLocalpart(%q) accepted", c.localpart)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAliasLocalpart(%q): %v", c.localpart, err)
			continue
		}
		if guildID != c.guildID || channelID != c.channelID {
			t.Errorf("ParseAliasLocalpart(%q) = %q, %q", c.localpart, guildID, channelID)
		}
	}
}

func TestAliasQueryWithResolver(t *testing.T) {
	handler, _ := newTestHandler(t, &stubResolver{
		info: &ChannelInfo{GuildName: "My Guild", ChannelName: "general", Topic: "things"},
	})

	provision, err := handler.AliasQuery(context.Background(),
		matrix.MustParseRoomAlias("#_discord_123_456:example.org"))
	if err != nil {
		t.Fatalf("AliasQuery: %v", err)
	}
	if provision == nil {
		t.Fatal("bridge alias reported absent")
	}
	if provision.Name != "#general (My Guild)" {
		t.Errorf("name = %q", provision.Name)
	}
	if provision.Topic != "things" {
		t.Errorf("topic = %q", provision.Topic)
	}
	if provision.CreationContent[creationGuildKey] != "123" ||
		provision.CreationContent[creationChannelKey] != "456" {
		t.Errorf("creation content = %v", provision.CreationContent)
	}
}

func TestAliasQueryWithoutResolver(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	provision, err := handler.AliasQuery(context.Background(),
		matrix.MustParseRoomAlias("#_discord_123_456:example.org"))
	if err != nil {
		t.Fatalf("AliasQuery: %v", err)
	}
	if provision == nil {
		t.Fatal("bridge alias reported absent")
	}
	if provision.Name != "discord-123-456" {
		t.Errorf("placeholder name = %q", provision.Name)
	}
}

func TestAliasQueryForeignAlias(t *testing.T) {
	handler, _ := newTestHandler(t, &stubResolver{info: &ChannelInfo{}})

	provision, err := handler.AliasQuery(context.Background(),
		matrix.MustParseRoomAlias("#general:example.org"))
	if err != nil {
		t.Fatalf("AliasQuery: %v", err)
	}
	if provision != nil {
		t.Errorf("foreign alias provisioned: %+v", provision)
	}
}

func TestAliasQueryMissingChannel(t *testing.T) {
	handler, _ := newTestHandler(t, &stubResolver{info: nil})

	provision, err := handler.AliasQuery(context.Background(),
		matrix.MustParseRoomAlias("#_discord_123_456:example.org"))
	if err != nil {
		t.Fatalf("AliasQuery: %v", err)
	}
	if provision != nil {
		t.Errorf("deleted channel provisioned: %+v", provision)
	}
}

func TestAliasQueryResolverFailure(t *testing.T) {
	handler, _ := newTestHandler(t, &stubResolver{err: errors.New("gateway down")})

	_, err := handler.AliasQuery(context.Background(),
		matrix.MustParseRoomAlias("#_discord_123_456:example.org"))
	if err == nil {
		t.Fatal("resolver failure swallowed by handler")
	}
}

func TestAliasQueriedPersistsLink(t *testing.T) {
	handler, stores := newTestHandler(t, nil)
	ctx := context.Background()

	alias := matrix.MustParseRoomAlias("#_discord_123_456:example.org")
	roomID := matrix.MustParseRoomID("!abc:example.org")
	if err := handler.AliasQueried(ctx, alias, roomID); err != nil {
		t.Fatalf("AliasQueried: %v", err)
	}

	link, err := stores.Rooms.ByChannel(ctx, "123", "456")
	if err != nil {
		t.Fatalf("ByChannel: %v", err)
	}
	if link == nil {
		t.Fatal("confirmed alias not persisted")
	}
	if link.RoomID != roomID || link.Alias != alias {
		t.Errorf("link = %+v", link)
	}
}

func TestAliasQueriedRejectsForeignAlias(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	err := handler.AliasQueried(context.Background(),
		matrix.MustParseRoomAlias("#general:example.org"),
		matrix.MustParseRoomID("!abc:example.org"))
	if err == nil {
		t.Fatal("foreign alias confirmation accepted")
	}
}

func TestThirdPartyLookup(t *testing.T) {
	handler, _ := newTestHandler(t, nil)
	ctx := context.Background()

	descriptor, err := handler.ThirdPartyLookup(ctx, appservice.Protocol)
	if err != nil {
		t.Fatalf("ThirdPartyLookup: %v", err)
	}
	if descriptor == nil {
		t.Fatal("discord descriptor absent")
	}
	if len(descriptor.Instances) != 1 || descriptor.Instances[0].NetworkID != "discord" {
		t.Errorf("instances = %+v", descriptor.Instances)
	}
	if _, ok := descriptor.FieldTypes["guild_id"]; !ok {
		t.Errorf("field types = %+v", descriptor.FieldTypes)
	}

	unknown, err := handler.ThirdPartyLookup(ctx, "irc")
	if err != nil {
		t.Fatalf("ThirdPartyLookup(irc): %v", err)
	}
	if unknown != nil {
		t.Errorf("unknown protocol descriptor = %+v", unknown)
	}
}
