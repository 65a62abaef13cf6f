// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/crosswire-im/crosswire/cmd/crosswire/cli"
	"github.com/crosswire-im/crosswire/ipc"
)

func adminCommand() *cli.Command {
	return &cli.Command{
		Name:    "admin",
		Summary: "Query a running bridge over its admin socket",
		Description: `Talk to a running bridge through the Unix socket configured as
admin.socketPath. The socket only exists while the bridge process is
up; anyone who can connect to it can query status, so its directory
permissions are the access control.`,
		Usage: "crosswire admin <command> [flags]",
		Subcommands: []*cli.Command{
			statusCommand(),
			pingCommand(),
		},
	}
}

type statusParams struct {
	cli.JSONOutput
	SocketPath string `flag:"socket,s" desc:"Path to the bridge admin socket"`
	Check      bool   `flag:"check" desc:"Print only the state and exit 1 unless it is running"`
}

func statusCommand() *cli.Command {
	params := &statusParams{}

	return &cli.Command{
		Name:    "status",
		Summary: "Show the status of a running bridge",
		Description: `Query a running bridge over its admin socket: startup state,
uptime, registration fingerprint, gateway connection, store counts,
and per-hook dispatch counters.

The socket path is the admin.socketPath value from the bridge's
config. The socket only exists while the bridge process is up.`,
		Usage: "crosswire admin status --socket <path> [flags]",
		Examples: []cli.Example{
			{
				Description: "Show bridge status",
				Command:     "crosswire admin status --socket /run/crosswire/admin.sock",
			},
			{
				Description: "Health probe for scripts and monitoring",
				Command:     "crosswire admin status --socket /run/crosswire/admin.sock --check",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.SocketPath == "" {
				return fmt.Errorf("--socket is required (the bridge's admin.socketPath)")
			}

			var reply ipc.StatusReply
			if err := ipc.Call(ctx, params.SocketPath, ipc.ActionStatus, &reply); err != nil {
				return err
			}

			if params.Check {
				fmt.Println(reply.State)
				if reply.State != "running" {
					return &cli.ExitError{Code: 1}
				}
				return nil
			}

			if done, err := params.EmitJSON(reply); done {
				return err
			}

			fmt.Printf("State:          %s\n", reply.State)
			if reply.State == "running" {
				fmt.Printf("Uptime:         %s\n", formatUptime(reply.UptimeSeconds))
			}
			fmt.Printf("Registration:   %s\n", reply.RegistrationFingerprint)
			fmt.Printf("Bot user:       %s\n", reply.BotUserID)
			if reply.GatewayConnected {
				fmt.Printf("Gateway:        connected\n")
			} else {
				fmt.Printf("Gateway:        disconnected\n")
			}
			fmt.Printf("Linked rooms:   %d\n", reply.LinkedRooms)
			fmt.Printf("Ghost users:    %d\n", reply.GhostUsers)

			if len(reply.Hooks) > 0 {
				fmt.Printf("\nDispatch\n")
				for _, hook := range reply.Hooks {
					fmt.Printf("  %-20s %d dispatched, %d failed\n",
						hook.Hook+":", hook.Dispatches, hook.Failures)
				}
			}

			return nil
		},
	}
}

type pingParams struct {
	cli.JSONOutput
	SocketPath string `flag:"socket,s" desc:"Path to the bridge admin socket"`
}

func pingCommand() *cli.Command {
	params := &pingParams{}

	return &cli.Command{
		Name:    "ping",
		Summary: "Check that a bridge is answering on its admin socket",
		Usage:   "crosswire admin ping --socket <path>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("ping", params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.SocketPath == "" {
				return fmt.Errorf("--socket is required (the bridge's admin.socketPath)")
			}

			var reply ipc.PingReply
			if err := ipc.Call(ctx, params.SocketPath, ipc.ActionPing, &reply); err != nil {
				return err
			}

			if done, err := params.EmitJSON(reply); done {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

// formatUptime formats seconds as a human-readable uptime string.
func formatUptime(seconds int64) string {
	duration := time.Duration(seconds) * time.Second
	hours := int(duration / time.Hour)
	minutes := int((duration % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
