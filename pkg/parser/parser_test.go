package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

// testBuilder builds cells in a heap large enough never to collect
type testBuilder struct {
	h       *memory.Heap
	symbols map[string]ast.Ref
	vecTag  ast.Tag
	strTag  ast.Tag
	eof     ast.Ref
}

func newTestBuilder() *testBuilder {
	h := memory.New(memory.Config{
		Kind:        memory.KindMarkSweep,
		SegmentSize: 100000,
		MaxSegments: 1,
	})
	b := &testBuilder{h: h, symbols: map[string]ast.Ref{}}
	b.eof = h.Cons(ast.Nil, ast.Nil)
	return b
}

func (b *testBuilder) Cons(car, cdr ast.Ref) ast.Ref { return b.h.Cons(car, cdr) }
func (b *testBuilder) SetCdr(pair, cdr ast.Ref)      { b.h.Cell(pair).Cdr = cdr }
func (b *testBuilder) Number(x float64) ast.Ref      { return b.h.Flonum(x) }
func (b *testBuilder) Protect(l ...*ast.Ref) func()  { return b.h.Protect(l...) }
func (b *testBuilder) EOF() ast.Ref                  { return b.eof }

func (b *testBuilder) Intern(name string) ast.Ref {
	if r, ok := b.symbols[name]; ok {
		return r
	}
	r := b.h.Alloc(ast.TSymbol)
	b.h.Cell(r).Name = name
	b.symbols[name] = r
	return r
}

func (b *testBuilder) String(s string) ast.Ref {
	r := b.h.Alloc(ast.TString)
	b.h.Cell(r).Payload = []byte(s)
	return r
}

func (b *testBuilder) Bytes(data []byte) ast.Ref {
	r := b.h.Alloc(ast.TByteArray)
	b.h.Cell(r).Payload = data
	return r
}

func (b *testBuilder) Vector(list ast.Ref) ast.Ref {
	var elems []ast.Ref
	for ; b.h.Tag(list) == ast.TCons; list = b.h.Cell(list).Cdr {
		elems = append(elems, b.h.Cell(list).Car)
	}
	r := b.h.Alloc(ast.TLispArray)
	b.h.Cell(r).Payload = elems
	return r
}

func (b *testBuilder) Eval(form ast.Ref) (ast.Ref, error) {
	// (+ a b) on numbers is enough for read-time evaluation tests
	c := b.h.Cell(form)
	if c.Tag == ast.TCons && b.h.Cell(c.Car).Name == "+" {
		args := c.Cdr
		x := b.h.Cell(b.h.Cell(args).Car).Num
		y := b.h.Cell(b.h.Cell(b.h.Cell(args).Cdr).Car).Num
		return b.h.Flonum(x + y), nil
	}
	return form, nil
}

// show renders a value for comparison
func (b *testBuilder) show(r ast.Ref) string {
	c := b.h.Cell
	switch b.h.Tag(r) {
	case ast.TNil:
		return "()"
	case ast.TFlonum:
		return strconv.FormatFloat(c(r).Num, 'g', -1, 64)
	case ast.TSymbol:
		return c(r).Name
	case ast.TString:
		return strconv.Quote(string(c(r).Payload.([]byte)))
	case ast.TLispArray:
		var parts []string
		for _, e := range c(r).Payload.([]ast.Ref) {
			parts = append(parts, b.show(e))
		}
		return "#(" + strings.Join(parts, " ") + ")"
	case ast.TCons:
		var parts []string
		for ; b.h.Tag(r) == ast.TCons; r = c(r).Cdr {
			parts = append(parts, b.show(c(r).Car))
		}
		s := "(" + strings.Join(parts, " ")
		if r != ast.Nil {
			s += " . " + b.show(r)
		}
		return s + ")"
	}
	return fmt.Sprintf("#<%s>", ast.TagName(b.h.Tag(r)))
}

// ============ Atoms ============

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"-7", "-7"},
		{"3.25", "3.25"},
		{".5", "0.5"},
		{"1e3", "1000"},
		{"1.5e-2", "0.015"},
		{"-", "-"},
		{"1e", "1e"},
		{"1+", "1+"},
		{"foo", "foo"},
		{"set-car!", "set-car!"},
		{"#t", "1"},
		{"#f", "()"},
		{".", "."},
		{"a;comment", "a"},
	}
	for _, tt := range tests {
		b := newTestBuilder()
		r, err := ParseString(tt.input, b)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.input, err)
			continue
		}
		if got := b.show(r); got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.want, got)
		}
	}
}

func TestParseNumberKinds(t *testing.T) {
	tests := []struct {
		tok    string
		number bool
	}{
		{"0", true},
		{"-0.5", true},
		{"12.", true},
		{"1e+5", true},
		{"1E5", false},
		{"e5", false},
		{"-.", false},
		{"1e+", false},
		{"1.2.3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsNumber(tt.tok); got != tt.number {
			t.Errorf("IsNumber(%q) = %v, want %v", tt.tok, got, tt.number)
		}
	}
}

// ============ Strings ============

func TestParseStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"cr\r"`, "cr\r"},
		{`"back\\slash"`, `back\slash`},
		{`"say \"hi\""`, `say "hi"`},
		{`"\101\102"`, "AB"},
		{`"\0"`, "\x00"},
		{`"\7x"`, "\x07x"},
		{`"\d\N\s"`, "\x04\x00 "},
		{`"\q"`, "q"},
	}
	for _, tt := range tests {
		b := newTestBuilder()
		r, err := ParseString(tt.input, b)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.input, err)
			continue
		}
		got := string(b.h.Cell(r).Payload.([]byte))
		if got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

// ============ Lists ============

func TestParseLists(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"()", "()"},
		{"(1 2 3)", "(1 2 3)"},
		{"(a (b c) d)", "(a (b c) d)"},
		{"(a . b)", "(a . b)"},
		{"(a b . c)", "(a b . c)"},
		{"( . x)", "x"},
		{"(1 .5)", "(1 0.5)"},
		{"(a\n ; comment\n b)", "(a b)"},
		{"(a\"s\")", `(a "s")`},
		{"'x", "(quote x)"},
		{"'(1 2)", "(quote (1 2))"},
		{"`(a ,b ,@c)", "(quasiquote (a (unquote b) (unquote-splicing c)))"},
		{"#(1 2 3)", "#(1 2 3)"},
		{"#()", "#()"},
		{"#.(+ 1 2)", "3"},
	}
	for _, tt := range tests {
		b := newTestBuilder()
		r, err := ParseString(tt.input, b)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.input, err)
			continue
		}
		if got := b.show(r); got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.want, got)
		}
	}
}

func TestParseAll(t *testing.T) {
	b := newTestBuilder()
	r, err := ParseAllString("1 (2) three ; done\n", b)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.show(r); got != "(1 (2) three)" {
		t.Errorf("got %s", got)
	}
}

func TestParseEOF(t *testing.T) {
	b := newTestBuilder()
	p := New(strings.NewReader("  ; nothing here\n"), b)
	r, err := p.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if r != b.eof {
		t.Errorf("expected EOF marker, got %s", b.show(r))
	}
}

func TestParseByteArrays(t *testing.T) {
	tests := []struct {
		input string
		want  []byte
	}{
		{`#0""`, []byte{}},
		{`#3"616263"`, []byte("abc")},
		{`#2"00FF"`, []byte{0, 0xff}},
	}
	for _, tt := range tests {
		b := newTestBuilder()
		r, err := ParseString(tt.input, b)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.input, err)
			continue
		}
		if b.h.Tag(r) != ast.TByteArray {
			t.Errorf("%s: read %s, want a byte array", tt.input, ast.TagName(b.h.Tag(r)))
			continue
		}
		if got := b.h.Cell(r).Payload.([]byte); !bytes.Equal(got, tt.want) {
			t.Errorf("%s: expected % x, got % x", tt.input, tt.want, got)
		}
	}
}

// ============ Errors ============

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input      string
		incomplete bool
	}{
		{")", false},
		{"(a . b c)", false},
		{"#z", false},
		{`#3"6162"`, false},
		{`#2"zz00"`, false},
		{`#2x`, false},
		{`#2"61`, true},
		{"(1 2", true},
		{`"abc`, true},
		{"'", true},
		{"(a . ", true},
		{"#", true},
	}
	for _, tt := range tests {
		b := newTestBuilder()
		_, err := ParseString(tt.input, b)
		if err == nil {
			t.Errorf("%q: expected error", tt.input)
			continue
		}
		if IsIncomplete(err) != tt.incomplete {
			t.Errorf("%q: incomplete=%v, got error %v", tt.input, tt.incomplete, err)
		}
	}
}

func TestParseLineNumbers(t *testing.T) {
	b := newTestBuilder()
	p := New(strings.NewReader("a\nb\n)"), b)
	p.Parse()
	p.Parse()
	_, err := p.Parse()
	if err == nil {
		t.Fatal("expected error")
	}
	if p.Line() != 3 {
		t.Errorf("expected line 3, got %d", p.Line())
	}
}
