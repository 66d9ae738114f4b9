// Command coordinatord runs the coordinator core as a standalone
// daemon, grounded on the jontk-slurm-client CLI's
// persistent-flags-plus-subcommands shape (cmd/slurm-cli/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	httpAddr   string
	gossipAddr string
	peers      []string
)

var rootCmd = &cobra.Command{
	Use:   "coordinatord",
	Short: "Decentralized compute marketplace coordinator",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "coordinator.toml", "path to the TOML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(adminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
