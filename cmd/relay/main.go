// Command relay runs the job broker's HTTP surface, reaper, and metrics
// exporter, or drives it as a client via its enqueue/status/work
// subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/relay/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "relay: fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	cli.SetVersion(fmt.Sprintf("%s (%s, %s)", version, commit, date))

	if err := cli.BuildRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
