package eval

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"siod_go/pkg/ast"
)

// ============ Fast Format Tests ============

func fastRoundTrip(t *testing.T, in *Interp, x ast.Ref) ast.Ref {
	t.Helper()
	var buf bytes.Buffer
	if err := in.NewFastWriter(&buf, true).Write(x); err != nil {
		t.Fatalf("write: %v", err)
	}
	y, err := in.NewFastReader(&buf).Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return y
}

func TestFastRoundTrip(t *testing.T) {
	inputs := []string{
		"()",
		"42",
		"-0.5",
		"sym",
		`"a string"`,
		"(1 2 3)",
		"(1 (2 (3)) . 4)",
		"(a . b)",
		"#(1 x \"y\" (z))",
		`(("k" . 1) ("j" . 2))`,
	}
	in, _ := newTestInterp()
	for _, input := range inputs {
		x, err := in.ReadString(input)
		if err != nil {
			t.Fatalf("ReadString(%q): %v", input, err)
		}
		release := in.Protect(&x)
		y := fastRoundTrip(t, in, x)
		if !in.Equal(x, y) {
			t.Errorf("round trip of %s gave %s", input, in.MustSprint(y))
		}
		release()
	}
}

func TestFastArrays(t *testing.T) {
	in, _ := newTestInterp()
	src := `(list (cons-array 2 'double) (cons-array 3 'long) (hexstr->bytes "00ff10"))`
	x, err := in.EvalString(src)
	if err != nil {
		t.Fatal(err)
	}
	release := in.Protect(&x)
	defer release()
	y := fastRoundTrip(t, in, x)
	if got, want := in.MustSprint(y), in.MustSprint(x); got != want {
		t.Errorf("arrays = %s, want %s", got, want)
	}
}

func TestFastSharing(t *testing.T) {
	in, _ := newTestInterp()
	x, err := in.EvalString("(define s (list 1 2)) (list s s)")
	if err != nil {
		t.Fatal(err)
	}
	release := in.Protect(&x)
	defer release()
	y := fastRoundTrip(t, in, x)
	if in.Car(y) != in.cadr(y) {
		t.Error("shared sublist read back as two copies")
	}
	if got := in.MustSprint(y); got != "((1 2) (1 2))" {
		t.Errorf("shared = %s", got)
	}
}

// fastRoundTripWithin fails instead of hanging when writing x does not finish
func fastRoundTripWithin(t *testing.T, in *Interp, x ast.Ref) ast.Ref {
	t.Helper()
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- in.NewFastWriter(&buf, true).Write(x) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write of a cyclic value did not finish")
	}
	y, err := in.NewFastReader(&buf).Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return y
}

func TestFastCycles(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(in *Interp, y ast.Ref) bool
	}{
		{
			"cycle through the head",
			"(define c (list 1 2 3)) (set-cdr! (cddr c) c) c",
			func(in *Interp, y ast.Ref) bool {
				return in.Cdr(in.cddr(y)) == y &&
					in.Num(in.Car(y)) == 1 && in.Num(in.cadr(y)) == 2 && in.Num(in.caddr(y)) == 3
			},
		},
		{
			"single cell cycle",
			"(define c (list 'a)) (set-cdr! c c) c",
			func(in *Interp, y ast.Ref) bool {
				return in.Cdr(y) == y && in.SymbolName(in.Car(y)) == "a"
			},
		},
		{
			"cycle into the middle",
			"(define c (list 1 2 3 4)) (set-cdr! (cdr (cddr c)) (cddr c)) c",
			func(in *Interp, y ast.Ref) bool {
				third := in.cddr(y)
				return in.Cdr(in.Cdr(third)) == third && in.cddr(third) != y &&
					in.Num(in.Car(y)) == 1 && in.Num(in.Car(third)) == 3
			},
		},
		{
			"car cycle",
			"(define c (list 1 2)) (set-car! c c) c",
			func(in *Interp, y ast.Ref) bool {
				return in.Car(y) == y && in.Num(in.cadr(y)) == 2
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := newTestInterp()
			x, err := in.EvalString(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			release := in.Protect(&x)
			defer release()
			y := fastRoundTripWithin(t, in, x)
			if y == x {
				t.Fatal("read returned the original value")
			}
			if !tt.check(in, y) {
				t.Error("structure changed in the round trip")
			}
		})
	}
}

func TestFastSelfArray(t *testing.T) {
	in, _ := newTestInterp()
	a, err := in.EvalString("(define a (cons-array 2)) (aset a 0 a) (aset a 1 'end) a")
	if err != nil {
		t.Fatal(err)
	}
	release := in.Protect(&a)
	defer release()
	b := fastRoundTripWithin(t, in, a)
	data, ok := in.Payload(b).([]ast.Ref)
	if !ok || len(data) != 2 {
		t.Fatalf("array read back as %T", in.Payload(b))
	}
	if data[0] != b {
		t.Error("self-referencing array lost its cycle")
	}
	if in.SymbolName(data[1]) != "end" {
		t.Errorf("second element = %s", in.MustSprint(data[1]))
	}
}

func TestFastSymbolTable(t *testing.T) {
	in, _ := newTestInterp()
	x, err := in.ReadString("(alpha alpha alpha)")
	if err != nil {
		t.Fatal(err)
	}
	var hashed, plain bytes.Buffer
	if err := in.NewFastWriter(&hashed, true).Write(x); err != nil {
		t.Fatal(err)
	}
	if err := in.NewFastWriter(&plain, false).Write(x); err != nil {
		t.Fatal(err)
	}
	if strings.Count(hashed.String(), "alpha") != 1 {
		t.Errorf("hashed stream holds the name %d times", strings.Count(hashed.String(), "alpha"))
	}
	if strings.Count(plain.String(), "alpha") != 3 {
		t.Errorf("plain stream holds the name %d times", strings.Count(plain.String(), "alpha"))
	}
}

func TestFastRejectsClosures(t *testing.T) {
	in, _ := newTestInterp()
	x, err := in.EvalString("(lambda (x) x)")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := in.NewFastWriter(&buf, true).Write(x); err == nil {
		t.Error("closure was fast-printed")
	}
}

func TestFastSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms.bin")
	in, out := newTestInterp()
	src := fmt.Sprintf(`(fast-save %q '((define saved-a 10) (define saved-b (+ saved-a 1))))`, path)
	if _, err := in.EvalString(src); err != nil {
		t.Fatalf("fast-save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# Siod Binary Object Save File\n") {
		t.Errorf("missing header: %q", data[:40])
	}

	other, _ := newTestInterp()
	result, err := evalIn(other, fmt.Sprintf("(fast-load %q) saved-b", path))
	if err != nil {
		t.Fatalf("fast-load: %v", err)
	}
	if result != "11" {
		t.Errorf("saved-b = %s, want 11", result)
	}

	result, err = evalIn(other, fmt.Sprintf("(fast-load %q t)", path))
	if err != nil {
		t.Fatal(err)
	}
	if result != "((define saved-a 10) (define saved-b (+ saved-a 1)))" {
		t.Errorf("noeval = %s", result)
	}
	if out.Len() != 0 {
		t.Errorf("quiet interpreter wrote %q", out.String())
	}
}

func TestFastPrintRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	in, _ := newTestInterp()
	src := fmt.Sprintf(`
(define f (fopen %q "wb"))
(fast-print '(x y) f)
(fast-print 'x f)
(fast-print "str" f)
(fclose f)
(define f (fopen %q "rb"))
(define r (list (fast-read f) (fast-read f) (fast-read f)))
(define end (fast-read f))
(fclose f)
(list r (eq? end (eof-val)))`, path, path)
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatal(err)
	}
	if result != `(((x y) x "str") t)` {
		t.Errorf("result = %s", result)
	}
}

func TestFastReadCorrupt(t *testing.T) {
	in, _ := newTestInterp()
	tests := [][]byte{
		{127, 5, 0, 0, 0, 0, 0, 0, 0}, // fetch of an unknown id
		{125, 3, 0, 0, 0, 0, 0, 0, 0}, // list cut short
		{2, 1, 2},                     // truncated double
		{126, 0, 0, 0, 0, 0, 0, 0, 1}, // id too large
	}
	for _, data := range tests {
		if _, err := in.NewFastReader(bytes.NewReader(data)).Read(); err == nil {
			t.Errorf("Read(% x) succeeded", data)
		}
	}
}
