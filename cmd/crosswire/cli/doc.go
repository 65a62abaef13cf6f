// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the command framework for the crosswire binary.
//
// Commands form a tree of [Command] values dispatched by positional
// arguments. Each command declares its flags either as a parameter struct
// with `flag:` tags bound through [FlagsFromParams], or by building a
// pflag.FlagSet directly. Execute handles help flags, subcommand dispatch
// with "did you mean" suggestions for typos, and flag parsing with
// structured error messages.
//
// Output conventions: help and logs go to stderr, command results go to
// stdout. Commands that produce structured results embed [JSONOutput] to
// offer a --json flag. A command that needs a specific process exit code
// returns [ExitError].
package cli
