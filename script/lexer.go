// Package script implements petalscript, a small language in which every
// value is a string. Integers are strings that parse as signed integers,
// the empty string is false and "true" is the canonical true value.
//
// Source text is turned into tokens by a Tokenizer, into a tree of Expr
// nodes by a Parser, and evaluated by an Interpreter against a single flat
// Env of variables.
package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxToken is the longest token, in bytes, the tokenizer accepts. Quoted
// strings count their delimiting quotes.
const MaxToken = 1024

// TokenKind identifies the type of a lexer token.
type TokenKind int

const (
	TokenWord   TokenKind = iota // bare word: number, keyword or identifier
	TokenString                  // quoted string, quotes retained
	TokenLBrace                  // {
	TokenRBrace                  // }
)

var tokenNames = map[TokenKind]string{
	TokenWord:   "word",
	TokenString: "string",
	TokenLBrace: "{",
	TokenRBrace: "}",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token with the line it ended on.
type Token struct {
	Kind  TokenKind
	Value string // token text; strings keep their quotes, escapes resolved
	Line  int
}

// Tokenizer reads tokens from a character stream one at a time.
type Tokenizer struct {
	r    io.ByteScanner
	line int
}

// NewTokenizer creates a tokenizer reading from r. Readers that already
// implement io.ByteScanner are read directly; others are buffered.
func NewTokenizer(r io.Reader) *Tokenizer {
	bs, ok := r.(io.ByteScanner)
	if !ok {
		bs = bufio.NewReader(r)
	}
	return &Tokenizer{r: bs, line: 1}
}

// LinesRead returns the current 1-based line number.
func (t *Tokenizer) LinesRead() int {
	return t.line
}

// Next returns the next token. ok is false once the stream is exhausted.
func (t *Tokenizer) Next() (tok Token, ok bool, err error) {
	ch, err := t.skipBlank()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Token{}, false, nil
		}
		return Token{}, false, err
	}

	switch ch {
	case '{':
		return Token{Kind: TokenLBrace, Value: "{", Line: t.line}, true, nil
	case '}':
		return Token{Kind: TokenRBrace, Value: "}", Line: t.line}, true, nil
	case '"':
		return t.lexString()
	default:
		return t.lexWord(ch)
	}
}

// skipBlank consumes whitespace and comments and returns the first
// significant byte.
func (t *Tokenizer) skipBlank() (byte, error) {
	for {
		ch, err := t.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if ch == '#' {
			if err := t.skipComment(); err != nil {
				return 0, err
			}
			continue
		}
		if !isSpace(ch) {
			return ch, nil
		}
		if ch == '\n' {
			t.line++
		}
	}
}

// skipComment consumes up to and including the newline that ends a comment.
func (t *Tokenizer) skipComment() error {
	for {
		ch, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		if ch == '\n' {
			t.line++
			return nil
		}
	}
}

func (t *Tokenizer) lexWord(first byte) (Token, bool, error) {
	var sb strings.Builder
	sb.WriteByte(first)

	for {
		ch, err := t.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Token{}, false, err
		}
		if isSpace(ch) || ch == '{' || ch == '}' || ch == '"' || ch == '#' {
			// One byte too far; leave it for the next token.
			if err := t.r.UnreadByte(); err != nil {
				return Token{}, false, err
			}
			break
		}
		if sb.Len() >= MaxToken {
			return Token{}, false, newError(KindLexical, t.line, ErrTokenTooLong, "token too long")
		}
		sb.WriteByte(ch)
	}

	return Token{Kind: TokenWord, Value: sb.String(), Line: t.line}, true, nil
}

func (t *Tokenizer) lexString() (Token, bool, error) {
	var sb strings.Builder
	sb.WriteByte('"')

	escape := false
	for {
		ch, err := t.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Token{}, false, newError(KindLexical, t.line, ErrUnterminatedString,
					"EOF while parsing string literal")
			}
			return Token{}, false, err
		}
		if ch == '\n' {
			return Token{}, false, newError(KindLexical, t.line, ErrUnterminatedString,
				"newline while parsing string literal")
		}

		if !escape && ch == '"' {
			break
		}
		if !escape && ch == '\\' {
			escape = true
			continue
		}
		if escape {
			switch ch {
			case 'n':
				ch = '\n'
			case 't':
				ch = '\t'
			case '"', '\\':
			default:
				return Token{}, false, newError(KindLexical, t.line, ErrInvalidEscape,
					"Invalid escape sequence \"\\%c\"", ch)
			}
			escape = false
		}

		// Leave room for the closing quote.
		if sb.Len()+1 >= MaxToken {
			return Token{}, false, newError(KindLexical, t.line, ErrTokenTooLong, "token too long")
		}
		sb.WriteByte(ch)
	}

	sb.WriteByte('"')
	return Token{Kind: TokenString, Value: sb.String(), Line: t.line}, true, nil
}

// Lex tokenizes src in full. It is a convenience for tests and tooling;
// the parser pulls tokens lazily from a Tokenizer.
func Lex(src string) ([]Token, error) {
	t := NewTokenizer(strings.NewReader(src))
	var tokens []Token
	for {
		tok, ok, err := t.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

// isSpace matches the C locale's isspace set.
func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
