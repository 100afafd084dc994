package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalscript/script"
)

// shutdownTimeout bounds flushing telemetry and history after a run.
const shutdownTimeout = 10 * time.Second

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Parse and evaluate a program",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().Duration("timeout", 0, "Execution timeout (0 = none; default: timeout from config)")
	cmd.Flags().Bool("dump-vars", false, "Print the final variables to stderr as name=value lines")
	addExecFlags(cmd)

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	st, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	timeout, err := resolveTimeout(cmd, st)
	if err != nil {
		return err
	}

	opts := execOptionsFromFlags(cmd, st)
	opts.eventTrail = st.logger.Enabled(cmd.Context(), slog.LevelDebug)
	exec, err := newExecutor(cmd.Context(), st, opts)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	ctx, cancel := runContext(cmd.Context(), timeout)
	defer cancel()

	result, runErr := exec.runFile(ctx, filePath, cmd.OutOrStdout())

	dumpVars, _ := cmd.Flags().GetBool("dump-vars")
	if dumpVars && result != nil {
		writeVars(cmd.ErrOrStderr(), result.Env)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := exec.writeMetrics(shutdownCtx, cmd.ErrOrStderr()); err != nil {
		st.logger.Warn("writing metrics", "error", err)
	}
	if err := exec.close(shutdownCtx); err != nil {
		st.logger.Warn("shutting down observers", "error", err)
	}

	if runErr != nil {
		return report(st.diag, runErr)
	}
	return nil
}

func resolveTimeout(cmd *cobra.Command, st *settings) (time.Duration, error) {
	timeout := st.cfg.Timeout
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if timeout < 0 {
		return 0, exitError(exitInputParse, "timeout must not be negative, got %s", timeout)
	}
	return timeout, nil
}

func runContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func writeVars(w io.Writer, env *script.Env) {
	if env == nil {
		return
	}
	vars := env.Snapshot()
	for _, name := range env.Names() {
		fmt.Fprintf(w, "%s=%s\n", name, vars[name])
	}
}
