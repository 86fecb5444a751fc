package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hearth/cli/api"
	"hearth/cli/style"
)

var serversCmd = &cobra.Command{
	Use:     "servers [server-id]",
	Short:   "List servers or show one",
	Aliases: []string{"server", "s", "ls"},
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showServer(args[0])
		}
		return listServers()
	},
}

var newServer api.CreateServer

var serversCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Place and install a new server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		newServer.Name = args[0]
		env, err := parseEnv(serverEnv)
		if err != nil {
			return err
		}
		newServer.Environment = env
		srv, err := client.CreateServer(newServer)
		if err != nil {
			return err
		}
		if srv.Status == "install_failed" {
			fmt.Println(style.ErrorBox.Render(fmt.Sprintf("Server %s created but install failed: %s", srv.ID, srv.InstallError)))
			fmt.Println(style.DimText.Render("  Retry with: hearthctl servers retry-install " + srv.ID))
			return nil
		}
		fmt.Println(style.SuccessBox.Render(fmt.Sprintf("Server %s placed on node %s", srv.ID, srv.NodeID)))
		return nil
	},
}

var serverEnv []string

var serversDeleteCmd = &cobra.Command{
	Use:     "delete <server-id>",
	Short:   "Delete a server and release its allocations",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.DeleteServer(args[0]); err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render("Server " + args[0] + " deleted"))
		return nil
	},
}

var serversActivityCmd = &cobra.Command{
	Use:   "activity <server-id>",
	Short: "Show recent activity on a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := client.Activity(args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println(style.DimText.Render("No activity recorded."))
			return nil
		}
		for _, e := range entries {
			who := e.UserID
			if who == "" {
				who = e.Source
			}
			fmt.Printf("  %s  %s  %s\n",
				style.DimText.Render(padRight(humanize.Time(e.Timestamp), 16)),
				style.Bold.Render(padRight(e.Event, 28)),
				style.DimText.Render(who))
		}
		return nil
	},
}

// stateCommand builds a subcommand posting to one of the admin state
// endpoints.
func stateCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <server-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := client.ServerAction(args[0], action)
			if err != nil {
				return err
			}
			fmt.Printf("  %s  %s\n", style.Bold.Render(srv.Name), style.ServerState(srv.Status, srv.Suspended))
			return nil
		},
	}
}

func init() {
	f := serversCreateCmd.Flags()
	f.StringVar(&newServer.OwnerID, "owner", "", "owning user id")
	f.StringVar(&newServer.EggID, "egg", "", "egg id")
	f.StringVar(&newServer.NodeID, "node", "", "pin to a node instead of selecting one")
	f.Int64Var(&newServer.Limits.Memory, "memory", 1024, "memory in MiB")
	f.Int64Var(&newServer.Limits.Disk, "disk", 5120, "disk in MiB")
	f.IntVar(&newServer.Limits.CPU, "cpu", 0, "cpu percent of one core, 0 for unlimited")
	f.IntVar(&newServer.FeatureLimits.Backups, "backups", 0, "backup slots")
	f.IntVar(&newServer.FeatureLimits.Allocations, "allocations", 0, "allocation limit, 0 for unlimited")
	f.StringArrayVarP(&serverEnv, "env", "e", nil, "KEY=VALUE startup variable (repeatable)")
	f.BoolVar(&newServer.StartOnCompletion, "start", false, "start the server once installed")
	serversCreateCmd.MarkFlagRequired("owner")
	serversCreateCmd.MarkFlagRequired("egg")

	serversCmd.AddCommand(
		serversCreateCmd,
		serversDeleteCmd,
		serversActivityCmd,
		stateCommand("suspend", "Suspend a server"),
		stateCommand("unsuspend", "Lift a suspension"),
		stateCommand("reinstall", "Run the install script again"),
		stateCommand("retry-install", "Retry a failed install"),
	)
	rootCmd.AddCommand(serversCmd)
}

func listServers() error {
	servers, err := client.ListServers()
	if err != nil {
		return fmt.Errorf("failed to fetch servers: %w", err)
	}
	if len(servers) == 0 {
		fmt.Println(style.DimText.Render("No servers. Create one with `hearthctl servers create`."))
		return nil
	}

	fmt.Println(style.Banner.Render("HEARTH") + style.Subtitle.Render(fmt.Sprintf("  %d server(s)", len(servers))))

	header := fmt.Sprintf("  %-36s %-20s %-18s %-22s %s", "ID", "NAME", "STATE", "ADDRESS", "MEMORY")
	fmt.Println(style.TableHeader.Render(header))
	for _, s := range servers {
		fmt.Printf("  %s %s %s %s %s\n",
			style.DimText.Render(padRight(s.ID, 36)),
			style.Bold.Render(padRight(s.Name, 20)),
			padRight(style.ServerState(s.Status, s.Suspended), 18),
			padRight(primaryAddress(s), 22),
			limit(s.Limits.Memory))
	}
	fmt.Println()
	return nil
}

func showServer(id string) error {
	srv, perms, err := client.GetServer(id)
	if err != nil {
		return fmt.Errorf("failed to fetch server: %w", err)
	}

	healthy := !srv.Suspended && srv.Status != "install_failed"
	card := style.CardHealthy
	if !healthy {
		card = style.CardUnhealthy
	}

	var b strings.Builder
	b.WriteString(style.Bold.Render(srv.Name))
	b.WriteString("  ")
	b.WriteString(style.NodeBadge.Render(srv.NodeID))
	b.WriteString("  ")
	b.WriteString(style.ServerState(srv.Status, srv.Suspended))
	b.WriteString("\n\n")

	kv := func(k, v string) {
		b.WriteString(style.Key.Render(k))
		b.WriteString(style.Val.Render(v))
		b.WriteString("\n")
	}
	kv("ID", srv.ID)
	kv("Image", srv.Image)
	kv("Memory", limit(srv.Limits.Memory))
	kv("Disk", limit(srv.Limits.Disk))
	kv("Address", primaryAddress(*srv))
	kv("Created", srv.CreatedAt.Format(time.RFC3339))
	if srv.InstallError != "" {
		kv("Install", srv.InstallError)
	}

	if r, err := client.Resources(id); err == nil {
		kv("Power", r.State)
		kv("Memory use", humanize.IBytes(uint64(max(r.Utilization.MemoryBytes, 0))))
		kv("Disk use", humanize.IBytes(uint64(max(r.Utilization.DiskBytes, 0))))
		kv("CPU", fmt.Sprintf("%.1f%%", r.Utilization.CPUAbsolute))
		if r.Utilization.Uptime > 0 {
			kv("Uptime", (time.Duration(r.Utilization.Uptime) * time.Millisecond).Truncate(time.Second).String())
		}
	}

	if len(srv.Allocations) > 1 {
		b.WriteString("\n")
		b.WriteString(style.TableHeader.Render("  Allocations"))
		b.WriteString("\n")
		for _, a := range srv.Allocations {
			dot := style.DotDim
			if a.Primary {
				dot = style.DotHealthy
			}
			b.WriteString(fmt.Sprintf("  %s %s:%d\n", dot, a.IP, a.Port))
		}
	}
	if len(perms) > 0 && perms[0] != "*" {
		b.WriteString("\n")
		b.WriteString(style.DimText.Render("permissions: " + strings.Join(perms, ", ")))
		b.WriteString("\n")
	}

	fmt.Println(card.Render(b.String()))
	return nil
}

func primaryAddress(s api.Server) string {
	for _, a := range s.Allocations {
		if a.Primary {
			return fmt.Sprintf("%s:%d", a.IP, a.Port)
		}
	}
	return "—"
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
