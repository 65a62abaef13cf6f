// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestDistance bounds how different a suggestion may be from the
// user's input. Beyond this the suggestion is more confusing than helpful.
const maxSuggestDistance = 3

// suggestCommand returns the subcommand name closest to the unknown name,
// or "" when nothing is close enough.
func suggestCommand(name string, commands []*Command) string {
	best := ""
	bestDistance := maxSuggestDistance + 1
	for _, cmd := range commands {
		if d := levenshtein(name, cmd.Name); d < bestDistance {
			bestDistance = d
			best = cmd.Name
		}
	}
	return best
}

// suggestFlag finds the first unregistered flag in args and returns the
// closest registered flag formatted as "--name", or "" when nothing is
// close enough.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	unknown := ""
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") || arg == "-" || arg == "--" {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name = name[:eq]
		}
		if name == "" {
			continue
		}
		if flagSet.Lookup(name) != nil {
			continue
		}
		// ShorthandLookup panics on multi-character input.
		if len(name) == 1 && flagSet.ShorthandLookup(name) != nil {
			continue
		}
		unknown = name
		break
	}
	if unknown == "" {
		return ""
	}

	best := ""
	bestDistance := maxSuggestDistance + 1
	flagSet.VisitAll(func(f *pflag.Flag) {
		if d := levenshtein(unknown, f.Name); d < bestDistance {
			bestDistance = d
			best = f.Name
		}
	})
	if best == "" {
		return ""
	}
	return "--" + best
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
