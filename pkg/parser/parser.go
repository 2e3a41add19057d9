package parser

import (
	"bufio"
	"encoding/hex"
	"io"
	"strconv"
	"strings"

	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
)

var (
	// Errors is the namespace of reader errors
	Errors = errorx.NewNamespace("read")

	// ErrSyntax is a malformed expression
	ErrSyntax = Errors.NewType("syntax")
	// ErrEOF is end of input inside an unfinished expression
	ErrEOF = Errors.NewType("eof")
)

// Builder creates the cells the parser reads. The parser protects every
// Ref it holds across a Builder call that may allocate.
type Builder interface {
	Cons(car, cdr ast.Ref) ast.Ref
	SetCdr(pair, cdr ast.Ref)
	Number(x float64) ast.Ref
	Intern(name string) ast.Ref
	String(s string) ast.Ref
	// Bytes makes a byte array holding data
	Bytes(data []byte) ast.Ref
	// Vector turns a proper list into a lisp array
	Vector(list ast.Ref) ast.Ref
	// Eval evaluates a form at read time (#.form)
	Eval(form ast.Ref) (ast.Ref, error)
	Protect(locs ...*ast.Ref) func()
	// EOF is the value returned once the input is exhausted
	EOF() ast.Ref
}

// Parser reads S-expressions from a byte stream
type Parser struct {
	in   *bufio.Reader
	b    Builder
	line int
}

// New creates a new parser reading from r
func New(r io.Reader, b Builder) *Parser {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Parser{in: br, b: b, line: 1}
}

// Line returns the current input line
func (p *Parser) Line() int { return p.line }

// Parse reads one expression. At end of input it returns Builder.EOF().
func (p *Parser) Parse() (ast.Ref, error) {
	c, err := p.skipWhitespace("")
	if err != nil {
		return ast.Nil, err
	}
	if c < 0 {
		return p.b.EOF(), nil
	}
	p.unread()
	return p.parseExpr()
}

// ParseAll reads every expression and returns them as a list
func (p *Parser) ParseAll() (ast.Ref, error) {
	head, tail := ast.Nil, ast.Nil
	release := p.b.Protect(&head, &tail)
	defer release()
	eof := p.b.EOF()
	for {
		x, err := p.Parse()
		if err != nil {
			return ast.Nil, err
		}
		if x == eof {
			return head, nil
		}
		cell := p.b.Cons(x, ast.Nil)
		if head == ast.Nil {
			head = cell
		} else {
			p.b.SetCdr(tail, cell)
		}
		tail = cell
	}
}

// getc returns the next byte or -1 at end of input
func (p *Parser) getc() int {
	c, err := p.in.ReadByte()
	if err != nil {
		return -1
	}
	if c == '\n' {
		p.line++
	}
	return int(c)
}

func (p *Parser) unread() {
	if err := p.in.UnreadByte(); err == nil {
		if c, _ := p.in.Peek(1); len(c) == 1 && c[0] == '\n' {
			p.line--
		}
	}
}

func (p *Parser) syntaxError(format string, args ...interface{}) error {
	return ErrSyntax.New(format, args...).WithProperty(PropertyLine, p.line)
}

func (p *Parser) eofError(msg string) error {
	return ErrEOF.New(msg).WithProperty(PropertyLine, p.line)
}

// PropertyLine carries the input line of a reader error
var PropertyLine = errorx.RegisterProperty("line")

// skipWhitespace skips blanks and comments and returns the first other
// byte, consumed. At end of input it returns -1, or an ErrEOF error when
// eofMsg is set.
func (p *Parser) skipWhitespace(eofMsg string) (int, error) {
	comment := false
	for {
		c := p.getc()
		if c < 0 {
			if eofMsg != "" {
				return c, p.eofError(eofMsg)
			}
			return c, nil
		}
		switch {
		case comment:
			if c == '\n' {
				comment = false
			}
		case c == ';':
			comment = true
		case !isSpace(c):
			return c, nil
		}
	}
}

func (p *Parser) parseExpr() (ast.Ref, error) {
	c, err := p.skipWhitespace("end of file inside read")
	if err != nil {
		return ast.Nil, err
	}
	switch c {
	case '(':
		return p.parseList()
	case ')':
		return ast.Nil, p.syntaxError("unexpected close paren")
	case '\'':
		return p.parseQuote("quote")
	case '`':
		return p.parseQuote("quasiquote")
	case ',':
		next := p.getc()
		if next == '@' {
			return p.parseQuote("unquote-splicing")
		}
		if next >= 0 {
			p.unread()
		}
		return p.parseQuote("unquote")
	case '"':
		return p.parseString()
	case '#':
		return p.parseHash()
	}
	return p.parseAtom(c)
}

// parseList reads list elements after the open paren. A lone "." makes
// the next element the tail.
func (p *Parser) parseList() (ast.Ref, error) {
	head, tail, x := ast.Nil, ast.Nil, ast.Nil
	release := p.b.Protect(&head, &tail, &x)
	defer release()
	dot := p.b.Intern(".")
	release2 := p.b.Protect(&dot)
	defer release2()
	for {
		c, err := p.skipWhitespace("end of file inside list")
		if err != nil {
			return ast.Nil, err
		}
		if c == ')' {
			return head, nil
		}
		p.unread()
		x, err = p.parseExpr()
		if err != nil {
			return ast.Nil, err
		}
		if x == dot {
			x, err = p.parseExpr()
			if err != nil {
				return ast.Nil, err
			}
			if head == ast.Nil {
				head = x
			} else {
				p.b.SetCdr(tail, x)
			}
			c, err = p.skipWhitespace("end of file inside list")
			if err != nil {
				return ast.Nil, err
			}
			if c != ')' {
				return ast.Nil, p.syntaxError("missing close paren")
			}
			return head, nil
		}
		cell := p.b.Cons(x, ast.Nil)
		if head == ast.Nil {
			head = cell
		} else {
			p.b.SetCdr(tail, cell)
		}
		tail = cell
	}
}

// parseQuote reads x and returns (name x)
func (p *Parser) parseQuote(name string) (ast.Ref, error) {
	x, err := p.parseExpr()
	if err != nil {
		return ast.Nil, err
	}
	tail := p.b.Cons(x, ast.Nil)
	release := p.b.Protect(&tail)
	defer release()
	sym := p.b.Intern(name)
	return p.b.Cons(sym, tail), nil
}

func (p *Parser) parseHash() (ast.Ref, error) {
	c := p.getc()
	switch c {
	case '(':
		l, err := p.parseList()
		if err != nil {
			return ast.Nil, err
		}
		return p.b.Vector(l), nil
	case '.':
		form, err := p.parseExpr()
		if err != nil {
			return ast.Nil, err
		}
		return p.b.Eval(form)
	case 'f':
		return ast.Nil, nil
	case 't':
		return p.b.Number(1), nil
	case -1:
		return ast.Nil, p.eofError("end of file after #")
	}
	if c >= '0' && c <= '9' {
		return p.parseBytes(c)
	}
	return ast.Nil, p.syntaxError("readsharp syntax not handled: #%c", rune(c))
}

// parseBytes reads the rest of #N"hex", a byte array of N bytes
func (p *Parser) parseBytes(c int) (ast.Ref, error) {
	n := 0
	for ; c >= '0' && c <= '9'; c = p.getc() {
		n = n*10 + c - '0'
	}
	if c < 0 {
		return ast.Nil, p.eofError("end of file inside byte array")
	}
	if c != '"' {
		return ast.Nil, p.syntaxError("bad byte array: #%d%c", n, rune(c))
	}
	var sb strings.Builder
	for c = p.getc(); c != '"'; c = p.getc() {
		if c < 0 {
			return ast.Nil, p.eofError("end of file inside byte array")
		}
		sb.WriteByte(byte(c))
	}
	data, err := hex.DecodeString(sb.String())
	if err != nil || len(data) != n {
		return ast.Nil, p.syntaxError("bad byte array: #%d\"%s\"", n, sb.String())
	}
	return p.b.Bytes(data), nil
}

func (p *Parser) parseString() (ast.Ref, error) {
	var sb strings.Builder
	for {
		c := p.getc()
		if c < 0 {
			return ast.Nil, p.eofError("end of file inside string")
		}
		if c == '"' {
			return p.b.String(sb.String()), nil
		}
		if c == '\\' {
			c = p.getc()
			switch c {
			case -1:
				return ast.Nil, p.eofError("eof after \\")
			case 'n':
				c = '\n'
			case 't':
				c = '\t'
			case 'r':
				c = '\r'
			case 'd':
				c = 0x04
			case 'N':
				c = 0
			case 's':
				c = ' '
			case '0', '1', '2', '3', '4', '5', '6', '7':
				n := c - '0'
				for digits := 1; digits < 3; digits++ {
					d := p.getc()
					if d < 0 {
						return ast.Nil, p.eofError("eof after \\0")
					}
					if d < '0' || d > '7' {
						p.unread()
						break
					}
					n = n*8 + d - '0'
				}
				c = n & 0xff
			}
		}
		sb.WriteByte(byte(c))
	}
}

// parseAtom reads a token starting with c and classifies it
func (p *Parser) parseAtom(c int) (ast.Ref, error) {
	var sb strings.Builder
	sb.WriteByte(byte(c))
	for {
		c = p.getc()
		if c < 0 || isSpace(c) {
			break
		}
		if strings.IndexByte("()'`,;\"", byte(c)) >= 0 {
			p.unread()
			break
		}
		sb.WriteByte(byte(c))
	}
	tok := sb.String()
	if IsNumber(tok) {
		// out of range values come back as +-Inf or 0
		f, _ := strconv.ParseFloat(tok, 64)
		return p.b.Number(f), nil
	}
	return p.b.Intern(tok), nil
}

// IsNumber reports whether tok matches -?digits[.digits][e[+-]digits]
// with at least one mantissa digit
func IsNumber(tok string) bool {
	i := 0
	if i < len(tok) && tok[i] == '-' {
		i++
	}
	digit := false
	for i < len(tok) && isDigit(tok[i]) {
		i++
		digit = true
	}
	if i < len(tok) && tok[i] == '.' {
		i++
		for i < len(tok) && isDigit(tok[i]) {
			i++
			digit = true
		}
	}
	if !digit {
		return false
	}
	if i < len(tok) && tok[i] == 'e' {
		i++
		if i < len(tok) && (tok[i] == '-' || tok[i] == '+') {
			i++
		}
		if i >= len(tok) || !isDigit(tok[i]) {
			return false
		}
		for i < len(tok) && isDigit(tok[i]) {
			i++
		}
	}
	return i == len(tok)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isSpace(c int) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// ParseString parses a single expression from a string
func ParseString(input string, b Builder) (ast.Ref, error) {
	return New(strings.NewReader(input), b).Parse()
}

// ParseAllString parses every expression in a string
func ParseAllString(input string, b Builder) (ast.Ref, error) {
	return New(strings.NewReader(input), b).ParseAll()
}

// IsIncomplete reports whether err means the input ended inside an expression
func IsIncomplete(err error) bool {
	return errorx.IsOfType(err, ErrEOF)
}
