package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalscript/loader"
	"github.com/petal-labs/petalscript/script"
)

// NewCheckCmd creates the "check" subcommand.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Parse a program without evaluating it",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	st, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	if _, err := parseFile(args[0]); err != nil {
		return report(st.diag, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Valid")
	return nil
}

// parseFile parses the program at path, closing the file before returning.
func parseFile(path string) (script.Expr, error) {
	rc, err := loader.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return script.NewParser(rc).ParseProgram()
}
