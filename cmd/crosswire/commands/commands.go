// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete crosswire CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crosswire-im/crosswire/cmd/crosswire/cli"
	"github.com/crosswire-im/crosswire/lib/version"
)

// Root builds and returns the complete crosswire command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "crosswire",
		Description: `Crosswire: a Matrix to Discord bridge.

Run the bridge appservice, manage its homeserver registration
descriptor, and query a running bridge over its admin socket.`,
		Subcommands: []*cli.Command{
			runCommand(),
			registrationCommand(),
			adminCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("crosswire %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Generate a registration descriptor to install on the homeserver",
				Command:     "crosswire registration generate --url https://bridge.example.org --file registration.yaml",
			},
			{
				Description: "Run the bridge",
				Command:     "crosswire run --config /etc/crosswire/config.yaml --registration registration.yaml",
			},
			{
				Description: "Check a running bridge over its admin socket",
				Command:     "crosswire admin status --socket /run/crosswire/admin.sock",
			},
		},
	}
}
