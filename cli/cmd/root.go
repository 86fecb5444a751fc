package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"hearth/cli/api"
)

var (
	apiURL   string
	apiToken string
	client   *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "hearthctl",
	Short: "Administer a hearth game-hosting panel",
	Long: `hearthctl talks to a hearth panel over its HTTP API.

Register nodes, place and manage game servers, drive power and console,
and take backups from the terminal.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("HEARTH_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8700"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "hearth API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("HEARTH_TOKEN"), "API token or session (env HEARTH_TOKEN)")
}
