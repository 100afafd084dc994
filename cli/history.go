package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalscript/bus"
)

// NewHistoryCmd creates the "history" subcommand.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show the events of one run",
		Long:  "Without arguments, list the most recent runs. With a run ID (or a unique prefix of one), print that run's events.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	cmd.Flags().String("history", "", "SQLite run history database (default: history.path from config)")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("history")
	if strings.TrimSpace(path) == "" {
		path = st.cfg.History.Path
	}
	if strings.TrimSpace(path) == "" {
		return exitError(exitInputParse, "no run history configured (use --history or set history.path)")
	}

	store, err := openHistoryStore(strings.TrimSpace(path), st)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	if len(args) == 1 {
		return showRun(cmd, store, args[0])
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "listing runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN ID\tSTARTED\tSTATUS\tELAPSED\tSOURCE\tERROR")
	for _, r := range runs {
		status := r.Status
		if status == "" {
			status = "unfinished"
		}
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID,
			r.Started.UTC().Format(time.RFC3339),
			status,
			r.Elapsed.Round(time.Microsecond),
			r.Source,
			errText,
		)
	}
	return writer.Flush()
}

func showRun(cmd *cobra.Command, store *bus.SQLiteEventStore, ref string) error {
	runID, err := resolveRunID(cmd, store, ref)
	if err != nil {
		return err
	}

	events, err := store.List(cmd.Context(), runID, 0, 0)
	if err != nil {
		return exitError(exitRuntime, "listing events: %v", err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "SEQ\tTIME\tKIND\tPHASE\tPAYLOAD")
	for _, e := range events {
		phase := string(e.Phase)
		if phase == "" {
			phase = "-"
		}
		payload := "-"
		if len(e.Payload) > 0 {
			data, err := json.Marshal(e.Payload)
			if err != nil {
				return exitError(exitRuntime, "encoding payload: %v", err)
			}
			payload = string(data)
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n",
			e.Seq,
			e.Time.UTC().Format(time.RFC3339Nano),
			e.Kind,
			phase,
			payload,
		)
	}
	return writer.Flush()
}

// resolveRunID expands a unique run ID prefix.
func resolveRunID(cmd *cobra.Command, store *bus.SQLiteEventStore, ref string) (string, error) {
	ids, err := store.RunIDs(cmd.Context())
	if err != nil {
		return "", exitError(exitRuntime, "listing runs: %v", err)
	}

	var matches []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", exitError(exitFileNotFound, "run %q not found", ref)
	case 1:
		return matches[0], nil
	default:
		return "", exitError(exitInputParse, "run ID prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}
