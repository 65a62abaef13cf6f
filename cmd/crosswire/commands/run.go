// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/crosswire-im/crosswire/bridge"
	"github.com/crosswire-im/crosswire/cmd/crosswire/cli"
	"github.com/crosswire-im/crosswire/config"
	"github.com/crosswire-im/crosswire/lib/version"
)

type runParams struct {
	ConfigPath       string `flag:"config,c" desc:"Path to the config file (default: $CROSSWIRE_CONFIG)"`
	RegistrationPath string `flag:"registration,r" desc:"Path to the registration descriptor" default:"registration.yaml"`
	Port             int    `flag:"port" desc:"Override the appservice listener port"`
	SocketPath       string `flag:"socket" desc:"Override the admin socket path"`
}

func runCommand() *cli.Command {
	params := &runParams{}

	return &cli.Command{
		Name:    "run",
		Summary: "Run the bridge",
		Description: `Start the bridge: load configuration and the registration
descriptor, open the stores, bind the appservice listener, connect to
the Discord gateway, then serve until interrupted.

Configuration comes from --config, or from the file named by the
CROSSWIRE_CONFIG environment variable when the flag is omitted. Flags
override individual config values.`,
		Usage: "crosswire run [flags]",
		Examples: []cli.Example{
			{
				Description: "Run with an explicit config file",
				Command:     "crosswire run --config /etc/crosswire/config.yaml --registration registration.yaml",
			},
			{
				Description: "Run on a different port for local testing",
				Command:     "crosswire run --config dev.yaml --port 9105",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("run", params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}

			var cfg *config.Config
			var err error
			if params.ConfigPath != "" {
				cfg, err = config.LoadFile(params.ConfigPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}

			cfg.Apply(&config.Config{
				Bridge: config.BridgeConfig{Port: params.Port},
				Admin:  config.AdminConfig{SocketPath: params.SocketPath},
			})

			// Rebuild the logger at the configured level; the one
			// handed in is fixed at info.
			level, err := cfg.Logging.SlogLevel()
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger = cli.NewLoggerAt(level)

			logger.Info("starting crosswire",
				"version", version.Info(),
				"registration", params.RegistrationPath)

			b, err := bridge.New(bridge.Options{
				Config:           cfg,
				RegistrationPath: params.RegistrationPath,
				Logger:           logger,
			})
			if err != nil {
				return err
			}
			return b.Run(ctx)
		},
	}
}
