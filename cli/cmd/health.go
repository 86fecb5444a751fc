package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hearth/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check health of the panel and its backing services",
	Aliases: []string{"doctor", "h"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.Health()
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach hearth API at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("HEARTH HEALTH"))
	fmt.Println()

	serviceNames := map[string]string{
		"store": "Store",
		"s3":    "S3",
		"nodes": "Nodes",
	}

	allUp := true
	for _, svc := range h.Services {
		name := serviceNames[svc.Name]
		if name == "" {
			name = svc.Name
		}

		var label string
		switch svc.Status {
		case "up":
			label = style.Healthy.Render("up")
		case "down":
			label = style.Unhealthy.Render("down")
			allUp = false
		default:
			label = style.Warning.Render(svc.Status)
		}
		if svc.Details != "" {
			label += "  " + style.DimText.Render(svc.Details)
		}

		fmt.Printf("  %s  %-14s %s\n", style.ServiceDot(svc.Status), style.Bold.Render(name), label)
	}

	fmt.Println()

	if allUp {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Some services are down"))
	}

	return nil
}
