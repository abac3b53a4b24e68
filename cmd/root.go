package cmd

import (
	"fmt"
	"os"

	"gemchat/internal/debug"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	ephemeral  bool
	version    string = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gemchat",
	Short: "Single-user chat client for Gemini and friends",
	Long: `gemchat keeps a list of chat sessions and streams model replies into them.

It runs as a local web backend (serve) or straight from the terminal.

Quick Start:
  gemchat login --api-key AIza... --name Ada   # store the credential
  gemchat ask "hello"                          # one turn in the active session
  gemchat sessions                             # list sessions
  gemchat serve                                # HTTP API with SSE streaming`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			debug.Set(true)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (json or toml); defaults to $GEMCHAT_CONFIG or config.json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep state in memory only")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
