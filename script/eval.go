package script

import (
	"context"
	"fmt"
	"io"
	"strconv"
)

// True is the value boolean operators produce for true. False is "".
const True = "true"

// Interpreter evaluates parsed programs against an Env.
type Interpreter struct {
	// Env holds the program's variables. If nil, Eval creates one.
	Env *Env

	// Stdout receives the text written by print. If nil, output is discarded.
	Stdout io.Writer

	// OnPrint, if set, is called after each print with the text written.
	OnPrint func(text string)

	// OnLoop, if set, is called when a while loop ends with its iteration count.
	OnLoop func(iterations int64)
}

// Eval evaluates e and returns its value. Evaluation stops early only on a
// runtime error or when ctx is done while a loop is running.
func (it *Interpreter) Eval(ctx context.Context, e Expr) (string, error) {
	if it.Env == nil {
		it.Env = NewEnv()
	}
	out := it.Stdout
	if out == nil {
		out = io.Discard
	}
	ev := &evaluator{ctx: ctx, it: it, out: out}
	return ev.eval(e)
}

// Eval evaluates e against env, writing print output to out.
func Eval(ctx context.Context, e Expr, env *Env, out io.Writer) (string, error) {
	it := &Interpreter{Env: env, Stdout: out}
	return it.Eval(ctx, e)
}

type evaluator struct {
	ctx context.Context
	it  *Interpreter
	out io.Writer
}

func (ev *evaluator) eval(e Expr) (string, error) {
	switch n := e.(type) {
	case *LiteralExpr:
		return n.Value, nil

	case *VariableExpr:
		return ev.it.Env.Lookup(n.Name), nil

	case *SetExpr:
		val, err := ev.eval(n.Value)
		if err != nil {
			return "", err
		}
		ev.it.Env.Assign(n.Name, val)
		return val, nil

	case *CompoundExpr:
		result := ""
		for _, sub := range n.Body {
			val, err := ev.eval(sub)
			if err != nil {
				return "", err
			}
			result = val
		}
		return result, nil

	case *UnaryExpr:
		return ev.evalUnary(n)

	case *BinaryExpr:
		return ev.evalBinary(n)

	case *SubstrExpr:
		return ev.evalSubstr(n)

	default:
		return "", fmt.Errorf("unknown expression type %T", e)
	}
}

func (ev *evaluator) evalUnary(n *UnaryExpr) (string, error) {
	val, err := ev.eval(n.Operand)
	if err != nil {
		return "", err
	}
	switch n.Op {
	case OpPrint:
		if _, err := io.WriteString(ev.out, val); err != nil {
			return "", fmt.Errorf("print: %w", err)
		}
		if ev.it.OnPrint != nil {
			ev.it.OnPrint(val)
		}
		return val, nil
	case OpNot:
		return Bool(!IsTruthy(val)), nil
	default:
		return "", fmt.Errorf("unknown unary operator %s", n.Op)
	}
}

func (ev *evaluator) evalBinary(n *BinaryExpr) (string, error) {
	// Operators that control which operands run.
	switch n.Op {
	case OpAnd:
		left, err := ev.eval(n.Left)
		if err != nil {
			return "", err
		}
		if !IsTruthy(left) {
			return Bool(false), nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return "", err
		}
		return Bool(IsTruthy(right)), nil

	case OpOr:
		left, err := ev.eval(n.Left)
		if err != nil {
			return "", err
		}
		if IsTruthy(left) {
			return Bool(true), nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return "", err
		}
		return Bool(IsTruthy(right)), nil

	case OpIf:
		cond, err := ev.eval(n.Left)
		if err != nil {
			return "", err
		}
		if IsTruthy(cond) {
			if _, err := ev.eval(n.Right); err != nil {
				return "", err
			}
		}
		return cond, nil

	case OpWhile:
		return ev.evalWhile(n)
	}

	left, err := ev.eval(n.Left)
	if err != nil {
		return "", err
	}
	right, err := ev.eval(n.Right)
	if err != nil {
		return "", err
	}

	switch n.Op {
	case OpAdd:
		return FormatInt(ToInt(left) + ToInt(right)), nil
	case OpSub:
		return FormatInt(ToInt(left) - ToInt(right)), nil
	case OpMul:
		return FormatInt(ToInt(left) * ToInt(right)), nil
	case OpDiv:
		divisor := ToInt(right)
		if divisor == 0 {
			return "", newError(KindRuntime, n.Line, ErrDivideByZero, "divide by zero")
		}
		return FormatInt(ToInt(left) / divisor), nil
	case OpEqual:
		return Bool(left == right), nil
	case OpLess:
		return Bool(ToInt(left) < ToInt(right)), nil
	case OpConcat:
		return left + right, nil
	default:
		return "", fmt.Errorf("unknown binary operator %s", n.Op)
	}
}

func (ev *evaluator) evalWhile(n *BinaryExpr) (string, error) {
	var count int64
	for {
		cond, err := ev.eval(n.Left)
		if err != nil {
			return "", err
		}
		if !IsTruthy(cond) {
			break
		}
		if err := ev.ctx.Err(); err != nil {
			return "", newError(KindRuntime, n.Line, fmt.Errorf("%w: %w", ErrInterrupted, err),
				"while loop interrupted after %d iterations", count)
		}
		if _, err := ev.eval(n.Right); err != nil {
			return "", err
		}
		count++
	}
	if ev.it.OnLoop != nil {
		ev.it.OnLoop(count)
	}
	return FormatInt(count), nil
}

func (ev *evaluator) evalSubstr(n *SubstrExpr) (string, error) {
	str, err := ev.eval(n.Str)
	if err != nil {
		return "", err
	}
	startVal, err := ev.eval(n.Start)
	if err != nil {
		return "", err
	}
	endVal, err := ev.eval(n.End)
	if err != nil {
		return "", err
	}
	return Substr(str, ToInt(startVal), ToInt(endVal)), nil
}

// IsTruthy reports whether a value counts as true: any non-empty string.
func IsTruthy(val string) bool {
	return val != ""
}

// Bool converts a Go bool to its script value.
func Bool(b bool) string {
	if b {
		return True
	}
	return ""
}

// ToInt coerces a value to an integer. Values that are not, in their
// entirety, a decimal integer coerce to 0.
func ToInt(val string) int64 {
	n, ok := parseInt(val)
	if !ok {
		return 0
	}
	return n
}

// FormatInt renders an integer as a script value.
func FormatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Substr returns the bytes of s in [start, end). Negative indices count as
// zero and both indices are clamped to len(s).
func Substr(s string, start, end int64) string {
	size := int64(len(s))
	start = min(max(start, 0), size)
	end = min(max(end, 0), size)
	if end <= start {
		return ""
	}
	return s[start:end]
}
