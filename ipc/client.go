// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/crosswire-im/crosswire/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// admin socket. This is separate from the server's read/write
// timeouts, covering only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
// Matches the server's maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// ServerError is returned by Call when the bridge responds with
// ok=false. It wraps the server's error message and the action that
// failed.
type ServerError struct {
	Action  string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("bridge error on %q: %s", e.Action, e.Message)
}

// Call sends one admin request to the bridge socket at socketPath and
// decodes the response. Each call opens a new connection, matching the
// server's one-request-per-connection model.
//
// On success (response ok=true), if result is non-nil and the response
// contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *ServerError containing
// the bridge's error message. Connection and encoding errors are
// returned as plain errors (not *ServerError).
func Call(ctx context.Context, socketPath, action string, result any) error {
	response, err := send(ctx, socketPath, map[string]any{"action": action})
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, socketPath, err)
	}

	if !response.OK {
		return &ServerError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func send(ctx context.Context, socketPath string, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
