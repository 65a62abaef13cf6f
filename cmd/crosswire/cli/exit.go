// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError is an error that carries a specific process exit code. Commands
// return it when they need to exit non-zero without printing an error message
// beyond what they already wrote (e.g., "status --check" exits 1 when the
// bridge is not running).
type ExitError struct {
	// Code is the process exit code.
	Code int

	// Message is an optional error message. If empty, Error() returns a
	// generic string and main prints nothing extra.
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the process exit code. main checks for this interface
// when deciding how to exit.
func (e *ExitError) ExitCode() int {
	return e.Code
}
