// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Crosswire's standard CBOR encoding configuration.
//
// Crosswire uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the Matrix Client-Server API, the
//     application-service HTTP API, and CLI --json output.
//   - CBOR for the internal admin socket protocol between the running
//     bridge and the crosswire CLI.
//
// This package provides the shared CBOR encoding and decoding modes so
// that both ends of the admin socket encode identically without
// duplicating configuration. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the admin socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
