package script

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

// MaxName is the longest variable name, in bytes.
const MaxName = 20

// binaryOps maps each two-operand reserved word to its operator.
var binaryOps = map[string]Op{
	"add":    OpAdd,
	"sub":    OpSub,
	"mul":    OpMul,
	"div":    OpDiv,
	"equal":  OpEqual,
	"less":   OpLess,
	"if":     OpIf,
	"while":  OpWhile,
	"and":    OpAnd,
	"or":     OpOr,
	"concat": OpConcat,
}

// unaryOps maps each one-operand reserved word to its operator.
var unaryOps = map[string]Op{
	"print": OpPrint,
	"not":   OpNot,
}

// Parse parses a complete program from a string.
func Parse(src string) (Expr, error) {
	return NewParser(strings.NewReader(src)).ParseProgram()
}

// Parser builds an AST from a token stream with one token of look-ahead.
type Parser struct {
	tz *Tokenizer
}

// NewParser creates a parser reading source text from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{tz: NewTokenizer(r)}
}

// LinesRead returns the line the parser has reached.
func (p *Parser) LinesRead() int {
	return p.tz.LinesRead()
}

// ParseProgram parses exactly one top-level expression and requires that
// nothing but whitespace and comments follows it.
func (p *Parser) ParseProgram() (Expr, error) {
	tok, err := p.expectToken()
	if err != nil {
		return nil, err
	}
	root, err := p.parse(tok)
	if err != nil {
		return nil, err
	}

	extra, ok, err := p.tz.Next()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, newError(KindSyntax, p.tz.LinesRead(), ErrUnexpectedToken,
			"unexpected token %q", extra.Value)
	}
	return root, nil
}

// expectToken reads the next token and fails if the stream has ended.
func (p *Parser) expectToken() (Token, error) {
	tok, ok, err := p.tz.Next()
	if err != nil {
		return Token{}, err
	}
	if !ok {
		return Token{}, newError(KindSyntax, p.tz.LinesRead(), ErrTokenExpected, "token expected")
	}
	return tok, nil
}

// parseNext reads one token and parses the expression it starts.
func (p *Parser) parseNext() (Expr, error) {
	tok, err := p.expectToken()
	if err != nil {
		return nil, err
	}
	return p.parse(tok)
}

// parse builds the expression that begins with the look-ahead token tok.
func (p *Parser) parse(tok Token) (Expr, error) {
	text := tok.Value

	if tok.Kind == TokenWord && IsInteger(text) {
		return &LiteralExpr{Value: text}, nil
	}

	if tok.Kind == TokenString {
		return &LiteralExpr{Value: text[1 : len(text)-1]}, nil
	}

	if tok.Kind == TokenLBrace {
		return p.parseCompound()
	}

	if tok.Kind == TokenWord {
		if text == "set" {
			return p.parseSet()
		}
		if op, ok := unaryOps[text]; ok {
			operand, err := p.parseNext()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: op, Operand: operand}, nil
		}
		if op, ok := binaryOps[text]; ok {
			return p.parseBinary(op, tok.Line)
		}
		if text == "substr" {
			return p.parseSubstr()
		}
		if ValidName(text) {
			return &VariableExpr{Name: text}, nil
		}
	}

	return nil, newError(KindSyntax, p.tz.LinesRead(), ErrInvalidToken, "invalid token %q", text)
}

func (p *Parser) parseCompound() (Expr, error) {
	var body []Expr
	for {
		tok, err := p.expectToken()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokenRBrace {
			return &CompoundExpr{Body: body}, nil
		}
		sub, err := p.parse(tok)
		if err != nil {
			return nil, err
		}
		body = append(body, sub)
	}
}

func (p *Parser) parseSet() (Expr, error) {
	target, err := p.expectToken()
	if err != nil {
		return nil, err
	}
	if !ValidName(target.Value) {
		return nil, newError(KindSyntax, p.tz.LinesRead(), ErrInvalidName,
			"invalid variable name %q", target.Value)
	}
	value, err := p.parseNext()
	if err != nil {
		return nil, err
	}
	return &SetExpr{Name: target.Value, Value: value}, nil
}

func (p *Parser) parseBinary(op Op, line int) (Expr, error) {
	left, err := p.parseNext()
	if err != nil {
		return nil, err
	}
	right, err := p.parseNext()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, Left: left, Right: right, Line: line}, nil
}

func (p *Parser) parseSubstr() (Expr, error) {
	str, err := p.parseNext()
	if err != nil {
		return nil, err
	}
	start, err := p.parseNext()
	if err != nil {
		return nil, err
	}
	end, err := p.parseNext()
	if err != nil {
		return nil, err
	}
	return &SubstrExpr{Str: str, Start: start, End: end}, nil
}

// ValidName reports whether name can be used as a variable: it starts with
// an ASCII letter, is at most MaxName bytes, and contains no '{', '}' or '#'.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxName || !isAlpha(name[0]) {
		return false
	}
	return !strings.ContainsAny(name, "{}#")
}

// IsInteger reports whether s is, in its entirety, a decimal signed integer.
// Values outside the int64 range still count; they saturate when coerced.
func IsInteger(s string) bool {
	_, ok := parseInt(s)
	return ok
}

// parseInt parses all of s as a base-10 int64, saturating on overflow.
func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, true
	}
	if errors.Is(err, strconv.ErrRange) {
		return n, true
	}
	return 0, false
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
