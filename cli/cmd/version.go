package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"hearth/cli/style"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logo := lipgloss.NewStyle().
			Bold(true).
			Foreground(style.Primary).
			Render(`
  ┬ ┬┌─┐┌─┐┬─┐┌┬┐┬ ┬
  ├─┤├┤ ├─┤├┬┘ │ ├─┤
  ┴ ┴└─┘┴ ┴┴└─ ┴ ┴ ┴`)

		fmt.Println(logo)
		fmt.Println()
		fmt.Printf("  %s %s\n", style.Key.Render("CLI"), style.Val.Render(Version))
		panel := style.DimText.Render("unreachable")
		if v, err := client.Version(); err == nil {
			panel = style.Val.Render(v)
		}
		fmt.Printf("  %s %s\n", style.Key.Render("Panel"), panel)
		fmt.Printf("  %s %s\n", style.Key.Render("API"), style.Val.Render(apiURL))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
