package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/justbuild-go/just-mr/internal/termcolor"
)

type globalFlags struct {
	colorMode     termcolor.ColorMode
	localBuildRoot string
	launcher      []string
}

// parseGlobalFlags extracts --color, --no-color, --local-build-root, and
// --launcher from anywhere in args, the way the teacher's gitcli extracts
// --color/--no-color before subcommand dispatch.
func parseGlobalFlags(args []string) (globalFlags, []string) {
	gf := globalFlags{colorMode: termcolor.ColorAuto}
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "--no-color":
			gf.colorMode = termcolor.ColorNever
			continue
		case arg == "--color" && i+1 < len(args):
			mode, err := termcolor.ParseColorMode(args[i+1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "just-mr: %v\n", err)
				os.Exit(2)
			}
			gf.colorMode = mode
			i++
			continue
		case strings.HasPrefix(arg, "--color="):
			val := strings.TrimPrefix(arg, "--color=")
			mode, err := termcolor.ParseColorMode(val)
			if err != nil {
				fmt.Fprintf(os.Stderr, "just-mr: %v\n", err)
				os.Exit(2)
			}
			gf.colorMode = mode
			continue
		case arg == "--local-build-root" && i+1 < len(args):
			gf.localBuildRoot = args[i+1]
			i++
			continue
		case strings.HasPrefix(arg, "--local-build-root="):
			gf.localBuildRoot = strings.TrimPrefix(arg, "--local-build-root=")
			continue
		case arg == "--launcher" && i+1 < len(args):
			gf.launcher = strings.Fields(args[i+1])
			i++
			continue
		case strings.HasPrefix(arg, "--launcher="):
			gf.launcher = strings.Fields(strings.TrimPrefix(arg, "--launcher="))
			continue
		}

		remaining = append(remaining, arg)
	}

	return gf, remaining
}
