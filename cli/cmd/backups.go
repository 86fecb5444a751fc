package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hearth/cli/style"
)

var backupsCmd = &cobra.Command{
	Use:     "backups <server-id>",
	Short:   "List a server's backups",
	Aliases: []string{"backup", "b"},
	Args:    cobra.ExactArgs(1),
	RunE:    runBackupsList,
}

var backupsCreateCmd = &cobra.Command{
	Use:   "create <server-id> [name]",
	Short: "Take a backup",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		b, err := client.CreateBackup(args[0], name)
		if err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render(fmt.Sprintf("Backup %s started (%s)", b.ID, b.Disk)))
		return nil
	},
}

var backupsDownloadCmd = &cobra.Command{
	Use:   "download <server-id> <backup-id>",
	Short: "Print a short-lived download link for an s3 backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := client.BackupDownloadURL(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

var restoreTruncate bool

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <server-id> <backup-id>",
	Short: "Restore a backup onto the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.RestoreBackup(args[0], args[1], restoreTruncate); err != nil {
			return err
		}
		fmt.Println(style.SuccessBox.Render("Restore started; the server is locked until it completes"))
		return nil
	},
}

func init() {
	backupsRestoreCmd.Flags().BoolVar(&restoreTruncate, "truncate", false, "delete all server files before restoring")
	backupsCmd.AddCommand(backupsCreateCmd, backupsDownloadCmd, backupsRestoreCmd)
	rootCmd.AddCommand(backupsCmd)
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	backups, err := client.ListBackups(args[0])
	if err != nil {
		return fmt.Errorf("failed to fetch backups: %w", err)
	}
	if len(backups) == 0 {
		fmt.Println(style.DimText.Render("No backups."))
		return nil
	}

	header := fmt.Sprintf("  %-2s  %-36s %-24s %-6s %-10s %s", "", "ID", "NAME", "DISK", "SIZE", "TAKEN")
	fmt.Println(style.TableHeader.Render(header))
	for _, b := range backups {
		dot := style.DotWarning
		switch {
		case b.IsSuccessful:
			dot = style.DotHealthy
		case b.CompletedAt != nil:
			dot = style.DotUnhealthy
		}
		fmt.Printf("  %s  %s %s %-6s %-10s %s\n",
			dot,
			style.DimText.Render(padRight(b.ID, 36)),
			style.Bold.Render(padRight(b.Name, 24)),
			b.Disk,
			humanize.IBytes(uint64(max(b.Bytes, 0))),
			style.DimText.Render(humanize.Time(b.CreatedAt)))
	}
	fmt.Println()
	return nil
}
