// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// Intent performs homeserver operations as one specific user. Intents
// for ghost users register the account on first use; the bot intent is
// created pre-registered because the homeserver provisions the sender
// account when the registration is installed.
//
// Intents are safe for concurrent use.
type Intent struct {
	factory *ClientFactory
	userID  UserID

	registered atomic.Bool

	// transactionCounter generates unique transaction IDs for
	// idempotent event sends.
	transactionCounter atomic.Int64
}

// UserID returns the user this intent acts as.
func (i *Intent) UserID() UserID { return i.userID }

// EnsureRegistered creates the intent's user account on the
// homeserver. An already-taken localpart (M_USER_IN_USE) counts as
// success, which is how ghosts survive bridge restarts. Once a call
// succeeds, further calls are no-ops.
func (i *Intent) EnsureRegistered(ctx context.Context) error {
	if i.registered.Load() {
		return nil
	}

	request := registerRequest{
		Type:         "m.login.application_service",
		Username:     i.userID.Localpart(),
		InhibitLogin: true,
	}
	_, err := i.factory.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", i.userID, request, nil)
	if err != nil && !IsError(err, ErrCodeUserInUse) {
		return fmt.Errorf("matrix: registering %s: %w", i.userID, err)
	}

	i.registered.Store(true)
	return nil
}

// Whoami validates the token and identity assertion, returning the
// user ID the homeserver sees.
func (i *Intent) Whoami(ctx context.Context) (UserID, error) {
	body, err := i.factory.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", i.userID, nil, nil)
	if err != nil {
		return UserID{}, fmt.Errorf("matrix: whoami failed: %w", err)
	}

	var response whoamiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return UserID{}, fmt.Errorf("matrix: parsing whoami response: %w", err)
	}
	return response.UserID, nil
}

// CreateRoom creates a room and returns its ID.
func (i *Intent) CreateRoom(ctx context.Context, request CreateRoomRequest) (RoomID, error) {
	body, err := i.factory.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", i.userID, request, nil)
	if err != nil {
		return RoomID{}, fmt.Errorf("matrix: create room failed: %w", err)
	}

	var response createRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RoomID{}, fmt.Errorf("matrix: parsing createRoom response: %w", err)
	}

	i.factory.logger.Info("created room",
		"room_id", response.RoomID.String(),
		"alias_localpart", request.AliasLocalpart,
		"name", request.Name,
	)
	return response.RoomID, nil
}

// ResolveAlias resolves a room alias to a room ID. An unmapped alias
// surfaces as *Error with M_NOT_FOUND.
func (i *Intent) ResolveAlias(ctx context.Context, alias RoomAlias) (RoomID, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	body, err := i.factory.doRequest(ctx, http.MethodGet, path, i.userID, nil, nil)
	if err != nil {
		return RoomID{}, fmt.Errorf("matrix: resolve alias %q failed: %w", alias, err)
	}

	var response resolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RoomID{}, fmt.Errorf("matrix: parsing resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

// JoinRoom joins a room by ID.
func (i *Intent) JoinRoom(ctx context.Context, roomID RoomID) error {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	if _, err := i.factory.doRequest(ctx, http.MethodPost, path, i.userID, struct{}{}, nil); err != nil {
		return fmt.Errorf("matrix: join room %s failed: %w", roomID, err)
	}
	return nil
}

// SendMessage sends an m.room.message event and returns its event ID.
func (i *Intent) SendMessage(ctx context.Context, roomID RoomID, content MessageContent) (string, error) {
	return i.SendEvent(ctx, roomID, "m.room.message", content)
}

// SendEvent sends a timeline event of any type, using the idempotent
// PUT with a fresh transaction ID. Returns the event ID.
func (i *Intent) SendEvent(ctx context.Context, roomID RoomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(i.nextTransactionID()),
	)

	body, err := i.factory.doRequest(ctx, http.MethodPut, path, i.userID, content, nil)
	if err != nil {
		return "", fmt.Errorf("matrix: send %s to %s failed: %w", eventType, roomID, err)
	}

	var response sendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("matrix: parsing send response: %w", err)
	}
	return response.EventID, nil
}

// SendStateEvent sends a state event and returns its event ID.
func (i *Intent) SendStateEvent(ctx context.Context, roomID RoomID, eventType, stateKey string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)

	body, err := i.factory.doRequest(ctx, http.MethodPut, path, i.userID, content, nil)
	if err != nil {
		return "", fmt.Errorf("matrix: send state %s/%s to %s failed: %w", eventType, stateKey, roomID, err)
	}

	var response sendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("matrix: parsing send state response: %w", err)
	}
	return response.EventID, nil
}

// SetDisplayName sets the intent user's profile display name.
func (i *Intent) SetDisplayName(ctx context.Context, name string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(i.userID.String()) + "/displayname"
	request := map[string]string{"displayname": name}
	if _, err := i.factory.doRequest(ctx, http.MethodPut, path, i.userID, request, nil); err != nil {
		return fmt.Errorf("matrix: set display name for %s failed: %w", i.userID, err)
	}
	return nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// sends. Format: "crosswire-<timestamp_ms>-<counter>", unique across
// restarts.
func (i *Intent) nextTransactionID() string {
	counter := i.transactionCounter.Add(1)
	return fmt.Sprintf("crosswire-%d-%d", time.Now().UnixMilli(), counter)
}
