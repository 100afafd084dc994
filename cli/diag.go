package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/petal-labs/petalscript/loader"
	"github.com/petal-labs/petalscript/script"
)

// diagPrinter writes "line N: message" diagnostics, coloring the prefix
// when the destination is a terminal.
type diagPrinter struct {
	w      io.Writer
	prefix *color.Color
}

func newDiagPrinter(w io.Writer, noColor bool) diagPrinter {
	prefix := color.New(color.FgRed, color.Bold)
	if noColor || !isTerminal(w) {
		prefix.DisableColor()
	} else {
		prefix.EnableColor()
	}
	return diagPrinter{w: w, prefix: prefix}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Print writes err. Interpreter errors keep their line-numbered form.
func (p diagPrinter) Print(err error) {
	var se *script.Error
	if errors.As(err, &se) {
		fmt.Fprintf(p.w, "%s %s\n", p.prefix.Sprintf("line %d:", se.Line), se.Msg)
		return
	}
	fmt.Fprintf(p.w, "%s %v\n", p.prefix.Sprint("error:"), err)
}

// exitCodeFor maps a run error to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, loader.ErrSourceNotFound):
		return exitFileNotFound
	case errors.Is(err, loader.ErrNotScript):
		return exitValidation
	case errors.Is(err, context.DeadlineExceeded):
		return exitTimeout
	}

	switch script.KindOf(err) {
	case script.KindLexical, script.KindSyntax:
		return exitValidation
	default:
		return exitRuntime
	}
}

// report prints err and returns the matching ExitError.
func report(d diagPrinter, err error) error {
	d.Print(err)
	return reported(exitCodeFor(err))
}
