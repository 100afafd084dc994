package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalscript/schedule"
)

// NewScheduleCmd creates the "schedule" subcommand.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <file>",
		Short: "Run a program on a cron schedule until interrupted",
		Long:  "Run a program each time a standard 5-field cron expression (UTC) comes due. A tick that comes due while the previous run is still going is skipped.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedule,
	}

	cmd.Flags().String("cron", "", "Cron expression, e.g. \"*/5 * * * *\" (required)")
	cmd.Flags().Duration("timeout", 0, "Per-run timeout (0 = none; default: timeout from config)")
	cmd.Flags().Duration("poll", time.Second, "How often to check whether the schedule is due")
	addExecFlags(cmd)

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	st, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	timeout, err := resolveTimeout(cmd, st)
	if err != nil {
		return err
	}
	expr, _ := cmd.Flags().GetString("cron")
	firstRun, err := schedule.NextRun(expr, time.Now())
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}
	// Fail fast on a program that can never run.
	if _, err := parseFile(filePath); err != nil {
		return report(st.diag, err)
	}

	exec, err := newExecutor(cmd.Context(), st, execOptionsFromFlags(cmd, st))
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := exec.writeMetrics(shutdownCtx, cmd.ErrOrStderr()); err != nil {
			st.logger.Warn("writing metrics", "error", err)
		}
		if err := exec.close(shutdownCtx); err != nil {
			st.logger.Warn("shutting down observers", "error", err)
		}
	}()

	poll, _ := cmd.Flags().GetDuration("poll")
	out := cmd.OutOrStdout()
	var scheduler *schedule.Scheduler
	scheduler, err = schedule.New(schedule.Config{
		Cron:         expr,
		PollInterval: poll,
		Logger:       st.logger,
		Run: func(ctx context.Context) (string, error) {
			runCtx, cancel := runContext(ctx, timeout)
			defer cancel()
			result, err := exec.runFile(runCtx, filePath, out)
			if err != nil {
				st.diag.Print(err)
			}
			if result == nil {
				return "", err
			}
			return result.RunID, err
		},
		OnTick: func(tick schedule.Tick) {
			st.logger.Info("tick",
				"status", string(tick.Status),
				"run_id", tick.RunID,
				"next_run_at", scheduler.NextRunAt().Format(time.RFC3339))
		},
	})
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(ctx); err != nil {
		return exitError(exitRuntime, "starting scheduler: %v", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Scheduled %s (%s), first run at %s\n", filePath, expr, firstRun.Format(time.RFC3339))

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		return exitError(exitRuntime, "stopping scheduler: %v", err)
	}
	if tick, ok := scheduler.LastTick(); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "Last run %s: %s\n", tick.ScheduledAt.Format(time.RFC3339), tick.Status)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Schedule stopped.")
	return nil
}
