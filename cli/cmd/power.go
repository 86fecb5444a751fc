package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hearth/cli/style"
)

func powerCommand(signal, short string) *cobra.Command {
	return &cobra.Command{
		Use:   signal + " <server-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Power(args[0], signal); err != nil {
				return err
			}
			fmt.Printf("  %s %s sent to %s\n", style.DotHealthy, style.Bold.Render(signal), args[0])
			return nil
		},
	}
}

var sendCmd = &cobra.Command{
	Use:   "send <server-id> <command...>",
	Short: "Send a console command to a running server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.Command(args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	rootCmd.AddCommand(
		powerCommand("start", "Start a server"),
		powerCommand("stop", "Stop a server gracefully"),
		powerCommand("restart", "Restart a server"),
		powerCommand("kill", "Kill a server's process"),
		sendCmd,
	)
}
