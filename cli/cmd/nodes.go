package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hearth/cli/api"
	"hearth/cli/style"
)

var nodesCmd = &cobra.Command{
	Use:     "nodes",
	Short:   "Manage daemon nodes",
	Aliases: []string{"node", "n"},
	RunE:    runNodesList,
}

var nodesListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List nodes with their capacity",
	Aliases: []string{"ls"},
	RunE:    runNodesList,
}

var nodeAdd api.Node

var nodesAddCmd = &cobra.Command{
	Use:   "add <name> <fqdn>",
	Short: "Register a node",
	Args:  cobra.ExactArgs(2),
	RunE:  runNodesAdd,
}

var nodesRemoveCmd = &cobra.Command{
	Use:     "remove <node-id>",
	Short:   "Delete a node that hosts no servers",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.DeleteNode(args[0]); err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render("Node " + args[0] + " removed"))
		return nil
	},
}

var configFormat string

var nodesConfigCmd = &cobra.Command{
	Use:   "config <node-id>",
	Short: "Print the daemon configuration file for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := client.NodeConfiguration(args[0], configFormat)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	},
}

var nodesRotateCmd = &cobra.Command{
	Use:   "rotate <node-id>",
	Short: "Issue new daemon credentials for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := client.RotateNodeCredentials(args[0])
		if err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render("New token id " + n.DaemonTokenID))
		fmt.Println(style.DimText.Render("  Deploy the new file with: hearthctl nodes config " + n.ID))
		return nil
	},
}

var nodesHealthCmd = &cobra.Command{
	Use:   "health <node-id>",
	Short: "Show the last health probe of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := client.NodeHealth(args[0])
		if err != nil {
			return err
		}
		state := style.Healthy.Render("reachable")
		if !h.Reachable {
			state = style.Unhealthy.Render("unreachable")
		}
		fmt.Printf("  %s  %s  %s\n", style.StatusDot(h.Reachable), style.Bold.Render(h.NodeID), state)
		fmt.Printf("  %s %s\n", style.Key.Render("Checked"), style.Val.Render(humanize.Time(h.CheckedAt)))
		if h.Reachable {
			fmt.Printf("  %s %s\n", style.Key.Render("Latency"), style.Val.Render(fmt.Sprintf("%dms", h.ResponseMs)))
		} else if h.Error != "" {
			fmt.Printf("  %s %s\n", style.Key.Render("Error"), style.Unhealthy.Render(h.Error))
		}
		return nil
	},
}

func init() {
	nodesAddCmd.Flags().IntVar(&nodeAdd.DaemonListen, "port", 8080, "daemon API port")
	nodesAddCmd.Flags().StringVar(&nodeAdd.Scheme, "scheme", "https", "daemon API scheme")
	nodesAddCmd.Flags().Int64Var(&nodeAdd.Memory, "memory", 0, "memory in MiB")
	nodesAddCmd.Flags().Int64Var(&nodeAdd.Disk, "disk", 0, "disk in MiB")
	nodesAddCmd.Flags().IntVar(&nodeAdd.MemoryOverallocate, "memory-overallocate", 0, "memory overallocation percent (display only)")
	nodesAddCmd.Flags().IntVar(&nodeAdd.DiskOverallocate, "disk-overallocate", 0, "disk overallocation percent (display only)")
	nodesAddCmd.Flags().IntVar(&nodeAdd.AllocationStart, "ports-from", 25565, "first port handed to servers")
	nodesAddCmd.Flags().IntVar(&nodeAdd.AllocationEnd, "ports-to", 25665, "last port handed to servers")
	nodesConfigCmd.Flags().StringVar(&configFormat, "format", "", "yaml (default) or json")

	nodesCmd.AddCommand(nodesListCmd, nodesAddCmd, nodesRemoveCmd, nodesConfigCmd, nodesRotateCmd, nodesHealthCmd)
	rootCmd.AddCommand(nodesCmd)
}

func runNodesList(cmd *cobra.Command, args []string) error {
	nodes, err := client.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to fetch nodes: %w", err)
	}
	if len(nodes) == 0 {
		fmt.Println(style.DimText.Render("No nodes registered. Add one with `hearthctl nodes add`."))
		return nil
	}

	fmt.Println(style.Banner.Render("HEARTH NODES") + style.Subtitle.Render(fmt.Sprintf("  %d node(s)", len(nodes))))

	header := fmt.Sprintf("  %-2s  %-36s %-18s %-20s %-20s %s", "", "ID", "NAME", "MEMORY", "DISK", "PORTS")
	fmt.Println(style.TableHeader.Render(header))

	for _, n := range nodes {
		dot := style.DotHealthy
		if n.Maintenance {
			dot = style.DotWarning
		}
		mem, disk, ports := "?", "?", "?"
		if u, err := client.NodeUsage(n.ID); err == nil {
			c := u.Capacity
			mem = fmt.Sprintf("%s / %s", size(c.MemoryUsed), limit(c.MemoryLimit))
			disk = fmt.Sprintf("%s / %s", size(c.DiskUsed), limit(c.DiskLimit))
			ports = fmt.Sprintf("%d free", c.FreePorts)
		}
		fmt.Printf("  %s  %s %s %-20s %-20s %s\n",
			dot,
			style.DimText.Render(padRight(n.ID, 36)),
			style.Bold.Render(padRight(n.Name, 18)),
			mem, disk, ports)
	}
	fmt.Println()
	return nil
}

func runNodesAdd(cmd *cobra.Command, args []string) error {
	nodeAdd.Name, nodeAdd.FQDN = args[0], args[1]
	n, err := client.CreateNode(nodeAdd)
	if err != nil {
		return err
	}
	fmt.Println(style.SuccessBox.Render(fmt.Sprintf("Node %s registered as %s", n.Name, n.ID)))
	fmt.Println(style.DimText.Render("  Fetch its daemon configuration with: hearthctl nodes config " + n.ID))
	return nil
}

// size renders an amount given in MiB.
func size(v int64) string {
	return humanize.IBytes(uint64(max(v, 0)) << 20)
}

// limit is size with zero read as unlimited.
func limit(v int64) string {
	if v <= 0 {
		return "∞"
	}
	return size(v)
}
