package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/justbuild-go/just-mr/internal/cli"
	"github.com/justbuild-go/just-mr/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("just-mr", version)
	app.Stderr = os.Stderr

	app.Register(&cli.Command{
		Name:    "resolve",
		Summary: "Fetch, import, deduplicate, and clone every repository a build needs",
		Usage:   "just-mr resolve [-C <config>] [-o <output>] [--dest <dir>] [--report <path>] [--fetch-only] [--watch <addr>]",
		Examples: []string{
			"just-mr resolve",
			"just-mr resolve -C repos.json --dest workspace",
			"just-mr resolve --fetch-only",
			"just-mr resolve --watch localhost:8080",
		},
		Run: func(args []string) int { return runResolve(args, gf, cw) },
	})

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "just-mr version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("just-mr %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
