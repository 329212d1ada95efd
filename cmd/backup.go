package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	internalApp "github.com/haierkeys/fast-backup-service/internal/app"
	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/event"
	"github.com/haierkeys/fast-backup-service/pkg/code"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run or prune a backup schedule once",
}

func init() {
	var (
		configPath string
		force      bool
		repository int64
	)

	runCmd := &cobra.Command{
		Use:   "run <scheduleId> [--force]",
		Short: "Run one backup now and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(configPath, func(ctx context.Context, a *internalApp.App) error {
				return runBackup(ctx, cmd.OutOrStdout(), a, id, force)
			})
		},
	}
	runCmd.Flags().BoolVar(&force, "force", false, "clear an in_progress status left by a crashed process")

	forgetCmd := &cobra.Command{
		Use:   "forget <scheduleId> [--repository id]",
		Short: "Apply the schedule's retention policy now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(configPath, func(ctx context.Context, a *internalApp.App) error {
				res, err := a.BackupService.RunForget(ctx, id, repository)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	forgetCmd.Flags().Int64Var(&repository, "repository", 0, "prune this repository instead of the schedule's primary")

	backupCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file")
	backupCmd.AddCommand(runCmd, forgetCmd)
	rootCmd.AddCommand(backupCmd)
}

// withApp opens the App, runs fn with a signal-aware context and shuts the App down,
// which also drains the retention and mirror follow-ups of the run.
func withApp(configPath string, fn func(ctx context.Context, a *internalApp.App) error) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, a)

	sctx, cancel := context.WithTimeout(context.Background(), internalApp.DefaultShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil && runErr == nil {
		runErr = err
	}
	_ = a.Logger().Sync()
	return runErr
}

func runBackup(ctx context.Context, out io.Writer, a *internalApp.App, id int64, force bool) error {
	if force {
		if err := clearInProgress(ctx, a, id); err != nil {
			return err
		}
	}

	stream := event.NewStream(256, id)
	a.Events.Subscribe(stream)
	done := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for {
			select {
			case e := <-stream.C():
				printEvent(out, e)
			case <-done:
				for {
					select {
					case e := <-stream.C():
						printEvent(out, e)
					default:
						return
					}
				}
			}
		}
	}()

	res, err := a.BackupService.ExecuteBackup(ctx, id, true)
	close(done)
	<-printed
	a.Events.Unsubscribe(stream)

	if res != nil && res.Skipped {
		fmt.Fprintf(out, "skipped: %s\n", res.SkipReason)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Status == domain.BackupStatusError {
		return fmt.Errorf("backup failed: %s", res.Error)
	}
	return nil
}

// clearInProgress resets a persisted in_progress status no live process owns
func clearInProgress(ctx context.Context, a *internalApp.App, id int64) error {
	detail, err := a.ScheduleRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if detail == nil || detail.Schedule == nil {
		return code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", id))
	}
	if detail.Schedule.LastBackupStatus != domain.BackupStatusInProgress {
		return nil
	}
	status := domain.BackupStatusError
	msg := code.ErrorBackupInterrupted.Canonical()
	return a.ScheduleRepo.UpdateStatus(ctx, id, domain.ScheduleStatusUpdate{
		LastBackupStatus: &status,
		LastBackupError:  &msg,
	})
}

func printEvent(out io.Writer, e event.Event) {
	switch ev := e.(type) {
	case event.BackupStarted:
		fmt.Fprintf(out, "started %q: %s -> %s\n", ev.ScheduleName, ev.VolumeName, ev.RepositoryName)
	case event.BackupProgress:
		fmt.Fprintf(out, "progress %5.1f%%  files %d/%d  bytes %d/%d\n",
			ev.Progress.PercentDone*100, ev.Progress.FilesDone, ev.Progress.TotalFiles,
			ev.Progress.BytesDone, ev.Progress.TotalBytes)
	case event.BackupCompleted:
		fmt.Fprintf(out, "completed: %s (%s)", ev.Status, ev.Duration.Round(time.Millisecond))
		if ev.Error != "" {
			fmt.Fprintf(out, " %s", ev.Error)
		}
		if ev.Summary != nil {
			fmt.Fprintf(out, " snapshot %s", ev.Summary.SnapshotID)
		}
		fmt.Fprintln(out)
	default:
		fmt.Fprintf(out, "%s\n", e.Type())
	}
}

func printJSON(out io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid schedule id %q", s)
	}
	return id, nil
}
