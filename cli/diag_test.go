package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/petal-labs/petalscript/loader"
	"github.com/petal-labs/petalscript/runtime"
	"github.com/petal-labs/petalscript/script"
)

func TestExitCodeFor(t *testing.T) {
	_, lexErr := script.Parse(`print "abc`)
	_, synErr := script.Parse(`print 1 2`)
	_, runErr := script.Eval(context.Background(), mustParse(t, `div 1 0`), script.NewEnv(), &bytes.Buffer{})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitSuccess},
		{"lexical", lexErr, exitValidation},
		{"syntax", synErr, exitValidation},
		{"runtime", runErr, exitRuntime},
		{"not found", fmt.Errorf("%w: %w", loader.ErrSourceNotFound, os.ErrNotExist), exitFileNotFound},
		{"not a script", fmt.Errorf("%w: binary", loader.ErrNotScript), exitValidation},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), exitTimeout},
		{"other", errors.New("disk on fire"), exitRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func mustParse(t *testing.T, src string) script.Expr {
	t.Helper()
	e, err := script.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return e
}

func TestDiagPrinter(t *testing.T) {
	var buf bytes.Buffer
	d := newDiagPrinter(&buf, false)

	_, err := script.Parse("{\n  set 9 1\n}")
	d.Print(err)
	d.Print(errors.New("plain failure"))

	want := "line 2: invalid variable name \"9\"\nerror: plain failure\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	err := report(newDiagPrinter(&buf, true), fmt.Errorf("%w: x", loader.ErrSourceNotFound))

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitFileNotFound {
		t.Fatalf("report() = %v, want exit code %d", err, exitFileNotFound)
	}
	if exitErr.Message != "" {
		t.Errorf("Message = %q, want empty for an already printed diagnostic", exitErr.Message)
	}
	if exitErr.Error() != "exit status 3" {
		t.Errorf("Error() = %q", exitErr.Error())
	}
}

func TestChainDecorators(t *testing.T) {
	var order []string
	tag := func(name string) runtime.EventEmitterDecorator {
		return func(next runtime.EventEmitter) runtime.EventEmitter {
			return func(e runtime.Event) {
				order = append(order, name)
				next(e)
			}
		}
	}

	var got []runtime.Event
	emit := chainDecorators(tag("first"), tag("second"))(func(e runtime.Event) {
		got = append(got, e)
	})
	emit(runtime.NewEvent(runtime.EventOutput, "r"))

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}
