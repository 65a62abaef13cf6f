// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the admin socket protocol between a running
// bridge and the crosswire CLI.
//
// The protocol is CBOR request-response over a Unix domain socket, one
// cycle per connection: the client writes a single CBOR map containing
// an "action" field, the server routes on the action, processes it, and
// writes a single CBOR [Response] envelope, then both sides close. CBOR
// is self-delimiting so no framing protocol is needed.
//
// The socket carries no authentication. Filesystem permissions on the
// socket path are the access boundary, matching how the bridge's other
// local secrets are protected.
//
// [Server] is the bridge side; [Call] is the CLI side. The reply
// payloads for the supported actions are [PingReply] and [StatusReply].
package ipc
