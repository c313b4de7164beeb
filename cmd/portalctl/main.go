// Command portalctl manages the portal knowledge base and admin tokens.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Knowledge base and admin tooling for the maple portal chatbot",
	Long: `portalctl loads game guides into the vector store and issues admin tokens.

Configuration is read the same way as the server: configs/config.toml (or
CONFIG_FILE), then environment variables, then a local .env file.`,
	Version:       version,
	SilenceUsage:  true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(tokenCmd)
}
