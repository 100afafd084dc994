package script

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// run parses and evaluates src in a fresh environment.
func run(t *testing.T, src string) (value, output string, env *Env) {
	t.Helper()
	e := mustParse(t, src)
	env = NewEnv()
	var buf bytes.Buffer
	val, err := Eval(context.Background(), e, env, &buf)
	if err != nil {
		t.Fatalf("Eval(%q) unexpected error: %v", src, err)
	}
	return val, buf.String(), env
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"add 2 3", "5"},
		{"sub 2 3", "-1"},
		{"mul -4 5", "-20"},
		{"div 7 2", "3"},
		{"div -7 2", "-3"},
		{"add +3 1", "4"},
		{`add "abc" 4`, "4"},
		{`add "" ""`, "0"},
		{`mul "12" "3"`, "36"},
		{`add "1x" 1`, "1"},
		{"add 9223372036854775807 1", "-9223372036854775808"},
		{"add 99999999999999999999 0", "9223372036854775807"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _, _ := run(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEval_DivideByZero(t *testing.T) {
	e := mustParse(t, "{\n  print 1\n  div 5 0\n}")
	var buf bytes.Buffer
	_, err := Eval(context.Background(), e, NewEnv(), &buf)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrDivideByZero) {
		t.Errorf("error %v does not wrap ErrDivideByZero", err)
	}
	if KindOf(err) != KindRuntime {
		t.Errorf("kind = %s, want runtime", KindOf(err))
	}
	if err.Error() != "line 3: divide by zero" {
		t.Errorf("message = %q", err.Error())
	}
	if buf.String() != "1" {
		t.Errorf("output before failure = %q, want %q", buf.String(), "1")
	}
}

func TestEval_DivideByNonNumeric(t *testing.T) {
	e := mustParse(t, `div 1 "zero"`)
	if _, err := Eval(context.Background(), e, NewEnv(), nil); !errors.Is(err, ErrDivideByZero) {
		t.Errorf("expected divide by zero, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Comparison and logic
// ---------------------------------------------------------------------------

func TestEval_Comparison(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`equal "a" "a"`, "true"},
		{`equal "a" "b"`, ""},
		{`equal 1 "01"`, ""},
		{`equal "" ""`, "true"},
		{"less 1 2", "true"},
		{"less 2 1", ""},
		{"less -5 0", "true"},
		{`less "abc" 1`, "true"},
		{"less 2 2", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _, _ := run(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEval_Logic(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`not ""`, "true"},
		{`not "x"`, ""},
		{`not 0`, ""},
		{`and "a" "b"`, "true"},
		{`and "a" ""`, ""},
		{`and "" "b"`, ""},
		{`or "" "b"`, "true"},
		{`or "" ""`, ""},
		{`or "a" ""`, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _, _ := run(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	_, _, env := run(t, `{ and "" set x 1 or "y" set z 1 }`)
	snap := env.Snapshot()
	if _, ok := snap["x"]; ok {
		t.Error("and evaluated its right operand after a false left operand")
	}
	if _, ok := snap["z"]; ok {
		t.Error("or evaluated its right operand after a true left operand")
	}
}

func TestEval_ShortCircuitSkipsErrors(t *testing.T) {
	got, _, _ := run(t, `or "y" div 1 0`)
	if got != "true" {
		t.Errorf("got %q, want true", got)
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func TestEval_SetAndLookup(t *testing.T) {
	val, _, env := run(t, `{ set x "hi" x }`)
	if val != "hi" {
		t.Errorf("value = %q, want hi", val)
	}
	if got := env.Snapshot()["x"]; got != "hi" {
		t.Errorf("x = %q, want hi", got)
	}
}

func TestEval_SetReturnsValue(t *testing.T) {
	val, _, env := run(t, "set x add 1 2")
	if val != "3" {
		t.Errorf("value = %q, want 3", val)
	}
	if env.Snapshot()["x"] != "3" {
		t.Errorf("x = %q, want 3", env.Snapshot()["x"])
	}
}

func TestEval_UnsetVariableDeclares(t *testing.T) {
	val, _, env := run(t, "{ y y }")
	if val != "" {
		t.Errorf("value = %q, want empty", val)
	}
	if env.Len() != 1 {
		t.Errorf("env has %d variables, want 1", env.Len())
	}
}

func TestEval_LastAssignmentWins(t *testing.T) {
	_, _, env := run(t, `{ set a 1 set a 2 set a concat a a }`)
	if env.Len() != 1 {
		t.Errorf("env has %d variables, want 1", env.Len())
	}
	if env.Snapshot()["a"] != "22" {
		t.Errorf("a = %q, want 22", env.Snapshot()["a"])
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestEval_If(t *testing.T) {
	val, out, _ := run(t, `if "yes" print "ran"`)
	if val != "yes" || out != "ran" {
		t.Errorf("value=%q output=%q, want yes/ran", val, out)
	}

	val, out, _ = run(t, `if "" print "ran"`)
	if val != "" || out != "" {
		t.Errorf("value=%q output=%q, want empty/empty", val, out)
	}
}

func TestEval_While(t *testing.T) {
	val, out, env := run(t, `{ set x 0 while less x 3 { print x set x add x 1 } }`)
	if val != "3" {
		t.Errorf("value = %q, want 3", val)
	}
	if out != "012" {
		t.Errorf("output = %q, want 012", out)
	}
	if env.Snapshot()["x"] != "3" {
		t.Errorf("x = %q, want 3", env.Snapshot()["x"])
	}
}

func TestEval_WhileNeverRuns(t *testing.T) {
	val, _, _ := run(t, `while "" print "never"`)
	if val != "0" {
		t.Errorf("value = %q, want 0", val)
	}
}

func TestEval_WhileInterrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	e := mustParse(t, "while 1 { }")
	_, err := Eval(ctx, e, NewEnv(), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("error %v does not wrap ErrInterrupted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap context.DeadlineExceeded", err)
	}
	if KindOf(err) != KindRuntime {
		t.Errorf("kind = %s, want runtime", KindOf(err))
	}
}

func TestEval_Compound(t *testing.T) {
	val, out, _ := run(t, "{ print 1 print 2 }")
	if val != "2" || out != "12" {
		t.Errorf("value=%q output=%q, want 2/12", val, out)
	}

	val, _, _ = run(t, "{ }")
	if val != "" {
		t.Errorf("empty block value = %q, want empty", val)
	}
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func TestEval_Strings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`substr "hello world" 6 11`, "world"},
		{`substr "hello" 3 100`, "lo"},
		{`substr "hello" -2 2`, "he"},
		{`substr "hello" 4 1`, ""},
		{`substr "hello" 9 12`, ""},
		{`substr "hello" "x" 1`, "h"},
		{`concat "foo" "bar"`, "foobar"},
		{`concat 1 2`, "12"},
		{`concat "" ""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, _, _ := run(t, tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEval_PrintIsVerbatim(t *testing.T) {
	val, out, _ := run(t, `print "a\tb\n"`)
	if out != "a\tb\n" {
		t.Errorf("output = %q", out)
	}
	if val != out {
		t.Errorf("value = %q, want printed text", val)
	}
}

// ---------------------------------------------------------------------------
// Interpreter hooks
// ---------------------------------------------------------------------------

func TestInterpreter_Hooks(t *testing.T) {
	var printed []string
	var loops []int64
	it := &Interpreter{
		OnPrint: func(text string) { printed = append(printed, text) },
		OnLoop:  func(n int64) { loops = append(loops, n) },
	}

	e := mustParse(t, `{ set i 0 while less i 2 { print i set i add i 1 } while "" { } }`)
	if _, err := it.Eval(context.Background(), e); err != nil {
		t.Fatalf("Eval error: %v", err)
	}

	if len(printed) != 2 || printed[0] != "0" || printed[1] != "1" {
		t.Errorf("printed = %q, want [0 1]", printed)
	}
	if len(loops) != 2 || loops[0] != 2 || loops[1] != 0 {
		t.Errorf("loops = %v, want [2 0]", loops)
	}
	if it.Env == nil || it.Env.Snapshot()["i"] != "2" {
		t.Errorf("interpreter env not populated")
	}
}

func TestSubstr(t *testing.T) {
	if got := Substr("abc", 0, 3); got != "abc" {
		t.Errorf("Substr full = %q", got)
	}
	if got := Substr("", 0, 1); got != "" {
		t.Errorf("Substr empty = %q", got)
	}
	if got := Substr("abc", -10, -1); got != "" {
		t.Errorf("Substr negative = %q", got)
	}
}
