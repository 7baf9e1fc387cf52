// Command symposium is the multi-role executable §6 describes: one binary,
// three roles (daemon, client, tool-server) selected by subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "symposium: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "symposium",
	Short: "Symposium message bus: broker daemon, bridge client, and tool server",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file supplying defaults")
	rootCmd.PersistentFlags().String("endpoint-path", "", "override the rendezvous socket path (SYMPOSIUM_ENDPOINT_PATH)")
	rootCmd.PersistentFlags().String("log-level", "", "override log verbosity: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().String("agent-role", "", "agent role tag selecting the reference guidance bundle")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(toolServerCmd)
}
