// Command qs is the peer CLI: the thin front end that drives
// internal/engine's host-command API (spec.md §6) and renders its
// event stream. It contains no protocol logic of its own, per
// spec.md §1's scoping of front ends to pure consumers of engine
// events and commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qstransfer/qs/cmd/qs/commands"
	qsconfig "github.com/qstransfer/qs/cmd/qs/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "0.0.0-dev"

var rootCmd = &cobra.Command{
	Use:   "qs",
	Short: "qs sends and receives files and directories directly between two peers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return qsconfig.Init()
	},
}

func main() {
	rootCmd.AddCommand(commands.Send(version))
	rootCmd.AddCommand(commands.Receive(version))
	rootCmd.AddCommand(commands.Config())
	rootCmd.AddCommand(commands.Version(version))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned command error to the process exit codes
// named in spec.md §6: 0 success, 1 generic error, 2 user-rejected
// offer, 3 cancelled, 4 network/transport error.
func exitCodeFor(err error) int {
	switch {
	case err == commands.ErrRejected:
		return 2
	case err == commands.ErrCancelled:
		return 3
	case commands.IsNetworkError(err):
		return 4
	default:
		return 1
	}
}

func init() {
	viper.SetEnvPrefix("qs")
}
