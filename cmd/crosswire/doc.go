// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Crosswire is the CLI for the Crosswire Matrix to Discord bridge. It
// runs the bridge process itself (run), manages the appservice
// registration descriptor the homeserver needs (registration), and
// queries a running bridge over its admin socket (status, ping).
package main
