// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/crosswire-im/crosswire/appservice"
	"github.com/crosswire-im/crosswire/cmd/crosswire/cli"
)

func registrationCommand() *cli.Command {
	return &cli.Command{
		Name:    "registration",
		Summary: "Manage the appservice registration descriptor",
		Description: `The registration descriptor is the YAML file shared between the
bridge and the homeserver. It carries the two authentication tokens
and the user and alias namespaces the bridge claims. Generate it once,
install it on the homeserver, and keep the bridge's copy unchanged
afterwards: regenerating rotates the tokens and the homeserver copy
must be replaced in lockstep.`,
		Usage: "crosswire registration <command> [flags]",
		Subcommands: []*cli.Command{
			registrationGenerateCommand(),
			registrationFingerprintCommand(),
		},
	}
}

// registrationResult is the --json output for both registration
// subcommands. Tokens are deliberately absent: the file itself is the
// only place they appear.
type registrationResult struct {
	Path        string `json:"path"`
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

type registrationGenerateParams struct {
	cli.JSONOutput
	URL   string `flag:"url,u" desc:"Externally reachable base URL of the bridge's appservice listener"`
	File  string `flag:"file" desc:"Output file" default:"registration.yaml"`
	Force bool   `flag:"force,f" desc:"Overwrite an existing file"`
}

func registrationGenerateCommand() *cli.Command {
	params := &registrationGenerateParams{}

	return &cli.Command{
		Name:    "generate",
		Summary: "Generate a fresh registration descriptor",
		Description: `Generate a registration descriptor with fresh random tokens and
write it with mode 0600. The file must then be listed under
app_service_config_files in the homeserver config and the homeserver
restarted.

An existing file is never overwritten without --force: regenerating
invalidates the copy the homeserver holds.`,
		Usage: "crosswire registration generate --url <url> [flags]",
		Examples: []cli.Example{
			{
				Description: "Generate into the default registration.yaml",
				Command:     "crosswire registration generate --url https://bridge.example.org",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("generate", params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.URL == "" {
				return fmt.Errorf("--url is required (the address the homeserver will push events to)")
			}

			reg := appservice.GenerateRegistration(appservice.GenerateConfig{URL: params.URL})
			if err := appservice.SaveRegistration(params.File, reg, params.Force); err != nil {
				return err
			}

			result := registrationResult{
				Path:        params.File,
				ID:          reg.ID,
				Fingerprint: reg.Fingerprint(),
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}

			fmt.Printf("Wrote %s\n", params.File)
			fmt.Printf("Fingerprint: %s\n", result.Fingerprint)
			fmt.Printf("\nInstall this file on the homeserver (app_service_config_files) and restart it.\n")
			return nil
		},
	}
}

type registrationFingerprintParams struct {
	cli.JSONOutput
	File string `flag:"file" desc:"Registration file to fingerprint" default:"registration.yaml"`
}

func registrationFingerprintCommand() *cli.Command {
	params := &registrationFingerprintParams{}

	return &cli.Command{
		Name:    "fingerprint",
		Summary: "Print the fingerprint of a registration file",
		Description: `Print the fingerprint of a registration descriptor. Compare it
against the fingerprint a running bridge reports (crosswire admin
status) or against the homeserver's copy to verify both sides hold the
same descriptor without looking at the tokens.`,
		Usage: "crosswire registration fingerprint [--file PATH]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("fingerprint", params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}

			reg, err := appservice.LoadRegistration(params.File)
			if err != nil {
				return err
			}

			result := registrationResult{
				Path:        params.File,
				ID:          reg.ID,
				Fingerprint: reg.Fingerprint(),
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}

			fmt.Println(result.Fingerprint)
			return nil
		},
	}
}
