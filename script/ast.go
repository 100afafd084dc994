package script

import (
	"fmt"
	"strings"
)

// Expr is the interface implemented by all AST nodes. Nodes are built once by
// the parser, never mutated afterwards, and own their operands exclusively.
// String renders the node back to source form that parses to the same tree.
type Expr interface {
	expr() // marker method
	String() string
}

// Op identifies the operator of a UnaryExpr or BinaryExpr.
type Op int

const (
	OpPrint Op = iota
	OpNot
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpEqual
	OpLess
	OpIf
	OpWhile
	OpAnd
	OpOr
	OpConcat
)

var opNames = map[Op]string{
	OpPrint:  "print",
	OpNot:    "not",
	OpAdd:    "add",
	OpSub:    "sub",
	OpMul:    "mul",
	OpDiv:    "div",
	OpEqual:  "equal",
	OpLess:   "less",
	OpIf:     "if",
	OpWhile:  "while",
	OpAnd:    "and",
	OpOr:     "or",
	OpConcat: "concat",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// LiteralExpr is a constant: a number or a quoted string with its quotes
// removed.
type LiteralExpr struct {
	Value string
}

func (e *LiteralExpr) expr() {}
func (e *LiteralExpr) String() string {
	if IsInteger(e.Value) {
		return e.Value
	}
	return Quote(e.Value)
}

// VariableExpr evaluates to the current value of a variable.
type VariableExpr struct {
	Name string
}

func (e *VariableExpr) expr() {}
func (e *VariableExpr) String() string {
	return e.Name
}

// SetExpr assigns the value of Value to the variable Name.
type SetExpr struct {
	Name  string
	Value Expr
}

func (e *SetExpr) expr() {}
func (e *SetExpr) String() string {
	return fmt.Sprintf("set %s %s", e.Name, e.Value)
}

// CompoundExpr is a braced block of expressions evaluated in order.
type CompoundExpr struct {
	Body []Expr
}

func (e *CompoundExpr) expr() {}
func (e *CompoundExpr) String() string {
	if len(e.Body) == 0 {
		return "{ }"
	}
	parts := make([]string, len(e.Body))
	for i, sub := range e.Body {
		parts[i] = sub.String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

// UnaryExpr is a one-operand operator: print or not.
type UnaryExpr struct {
	Op      Op
	Operand Expr
}

func (e *UnaryExpr) expr() {}
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("%s %s", e.Op, e.Operand)
}

// BinaryExpr is a two-operand operator. For if and while, Left is the
// condition and Right the body. Line is where the operator appeared and is
// used to report runtime errors.
type BinaryExpr struct {
	Op    Op
	Left  Expr
	Right Expr
	Line  int
}

func (e *BinaryExpr) expr() {}
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.Op, e.Left, e.Right)
}

// SubstrExpr takes the bytes of Str from index Start up to, not including,
// index End.
type SubstrExpr struct {
	Str   Expr
	Start Expr
	End   Expr
}

func (e *SubstrExpr) expr() {}
func (e *SubstrExpr) String() string {
	return fmt.Sprintf("substr %s %s %s", e.Str, e.Start, e.End)
}

// Quote renders s as a string literal, escaping the characters the
// tokenizer unescapes.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteByte(ch)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// Walk traverses the tree rooted at e in depth-first order, parents before
// children. If fn(node) returns true, Walk visits the node's operands and
// then calls fn(nil).
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *SetExpr:
		Walk(n.Value, fn)
	case *CompoundExpr:
		for _, sub := range n.Body {
			Walk(sub, fn)
		}
	case *UnaryExpr:
		Walk(n.Operand, fn)
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *SubstrExpr:
		Walk(n.Str, fn)
		Walk(n.Start, fn)
		Walk(n.End, fn)
	}
	fn(nil)
}
