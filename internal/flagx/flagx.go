// Package flagx contains helpers for parsing command-line flags in pieces:
// each config package parses only the flags it owns, so server and client
// binaries can share packages without flag-name collisions.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// Filter returns only the arguments belonging to the given flag names,
// keeping both "-f value" and "-f=value" forms. Unrecognized arguments
// are dropped so a FlagSet can parse the result safely.
func Filter(args []string, names []string) []string {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}

	kept := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := known[name]; ok {
				kept = append(kept, arg)
			}
			continue
		}

		if _, ok := known[arg]; ok {
			kept = append(kept, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				kept = append(kept, args[i+1])
				i++
			}
		}
	}
	return kept
}

// ConfigFilePath extracts the JSON config file path from -c/-config,
// ignoring every other argument. Empty string means no file was given.
func ConfigFilePath() string {
	var path string

	args := Filter(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("configfile", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(args)

	return path
}
