// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestCommand returns the closest matching subcommand name for the
// unknown input, or "" when nothing is close. "Close" means an edit
// distance of at most 3, which catches transpositions, dropped
// characters, and extra characters.
func suggestCommand(unknown string, commands []*Command) string {
	bestName := ""
	bestDistance := 4

	for _, command := range commands {
		distance := levenshtein(unknown, command.Name)
		if distance < bestDistance {
			bestDistance = distance
			bestName = command.Name
		}
	}
	return bestName
}

// suggestFlag finds the first unrecognized flag in args and returns the
// closest defined flag name with the appropriate dash prefix, or "".
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var defined []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined = append(defined, f.Name)
	})

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if index := strings.IndexByte(name, '='); index >= 0 {
			name = name[:index]
		}

		isDefined := false
		for _, candidate := range defined {
			if candidate == name {
				isDefined = true
				break
			}
		}
		if isDefined {
			continue
		}

		bestName := ""
		bestDistance := 4
		for _, candidate := range defined {
			distance := levenshtein(name, candidate)
			if distance < bestDistance {
				bestDistance = distance
				bestName = candidate
			}
		}

		if bestName != "" {
			if len(bestName) == 1 {
				return "-" + bestName
			}
			return "--" + bestName
		}

		// Only the first unrecognized flag gets a suggestion.
		break
	}
	return ""
}

// levenshtein computes the edit distance between two strings using a
// single reusable row of the distance matrix.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}

	for j := 1; j <= len(b); j++ {
		current := make([]int, len(a)+1)
		current[0] = j

		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[i] = min(previous[i]+1, min(current[i-1]+1, previous[i-1]+cost))
		}
		previous = current
	}
	return previous[len(a)]
}
