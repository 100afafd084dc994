package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalscript/script"
)

// NewASTCmd creates the "ast" subcommand.
func NewASTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ast <file>",
		Short: "Print a program's syntax tree",
		Long:  "Parse a program and print it in canonical source form, or as an indented tree with --tree.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAST,
	}

	cmd.Flags().Bool("tree", false, "Print one node per line, indented by depth")

	return cmd
}

func runAST(cmd *cobra.Command, args []string) error {
	st, err := resolveSettings(cmd)
	if err != nil {
		return err
	}

	prog, err := parseFile(args[0])
	if err != nil {
		return report(st.diag, err)
	}

	out := cmd.OutOrStdout()
	if tree, _ := cmd.Flags().GetBool("tree"); tree {
		writeTree(out, prog)
		return nil
	}
	fmt.Fprintln(out, prog)
	return nil
}

// writeTree prints one node per line, indented two spaces per level.
func writeTree(w io.Writer, prog script.Expr) {
	depth := 0
	script.Walk(prog, func(e script.Expr) bool {
		if e == nil {
			depth--
			return false
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), treeLabel(e))
		depth++
		return true
	})
}

func treeLabel(e script.Expr) string {
	switch n := e.(type) {
	case *script.LiteralExpr:
		return "literal " + script.Quote(n.Value)
	case *script.VariableExpr:
		return "variable " + n.Name
	case *script.SetExpr:
		return "set " + n.Name
	case *script.CompoundExpr:
		return fmt.Sprintf("compound (%d)", len(n.Body))
	case *script.UnaryExpr:
		return n.Op.String()
	case *script.BinaryExpr:
		return fmt.Sprintf("%s (line %d)", n.Op, n.Line)
	case *script.SubstrExpr:
		return "substr"
	default:
		return fmt.Sprintf("%T", e)
	}
}
