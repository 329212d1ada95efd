package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	internalApp "github.com/haierkeys/fast-backup-service/internal/app"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect backup schedules",
}

func init() {
	var configPath string

	dueCmd := &cobra.Command{
		Use:   "due",
		Short: "List the schedules that are due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, func(ctx context.Context, a *internalApp.App) error {
				ids, err := a.BackupService.GetSchedulesToExecute(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ids)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules with their last and next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configPath, func(ctx context.Context, a *internalApp.App) error {
				list, err := a.ScheduleRepo.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCRON\tENABLED\tLAST STATUS\tNEXT RUN")
				for _, s := range list {
					next := "-"
					if s.NextBackupAt != nil {
						next = s.NextBackupAt.UTC().Format(time.RFC3339)
					}
					status := string(s.LastBackupStatus)
					if status == "" {
						status = "-"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n", s.ID, s.Name, s.CronExpression, s.Enabled, status, next)
				}
				return w.Flush()
			})
		},
	}

	scheduleCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file")
	scheduleCmd.AddCommand(dueCmd, listCmd)
	rootCmd.AddCommand(scheduleCmd)
}
