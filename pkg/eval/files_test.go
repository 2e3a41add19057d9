package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joomcode/errorx"
)

// ============ File Stream Tests ============

func TestFileWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	in, _ := newTestInterp()

	src := fmt.Sprintf(`
(define f (fopen %q "w"))
(puts "hello " f)
(putc 119 f)
(putc "orld" f)
(print '(1 2) f)
(fclose f)`, path)
	if _, err := in.EvalString(src); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello wo(1 2)" {
		t.Errorf("file = %q, want %q", data, "hello wo(1 2)")
	}

	src = fmt.Sprintf(`
(define f (fopen %q))
(define a (getc f))
(ungetc a f)
(define b (getc f))
(define rest (fread 4 f))
(define pos (ftell f))
(fclose f)
(list a b rest pos)`, path)
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result != `(104 104 "ello" 5)` {
		t.Errorf("read = %s", result)
	}
}

func TestFileReadForms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms.scm")
	if err := os.WriteFile(path, []byte("(a b) 42 \"s\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	in, _ := newTestInterp()
	src := fmt.Sprintf(`
(define f (fopen %q))
(define forms (list (read f) (read f) (read f)))
(define end (read f))
(fclose f)
(list forms (eq? end (eof-val)))`, path)
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatal(err)
	}
	if result != `(((a b) 42 "s") t)` {
		t.Errorf("forms = %s", result)
	}
}

func TestFseek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seek.txt")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	in, _ := newTestInterp()
	src := fmt.Sprintf(`
(define f (fopen %q "r+"))
(getc f)
(fseek f 5 0)
(define c (getc f))
(fseek f 0 0)
(fwrite '("AB" 1) f)
(fseek f 0 2)
(define end (ftell f))
(fclose f)
(list c end)`, path)
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatal(err)
	}
	if result != "(53 10)" {
		t.Errorf("result = %s, want (53 10)", result)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "A123456789" {
		t.Errorf("file = %q", data)
	}
}

func TestFreadIntoString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buf.txt")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	in, _ := newTestInterp()
	src := fmt.Sprintf(`
(define f (fopen %q))
(define buf (cons-array 2 'string))
(define n1 (fread buf f))
(define first (string-append buf))
(define n2 (fread buf f))
(define n3 (fread buf f))
(fclose f)
(list n1 first n2 n3)`, path)
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatal(err)
	}
	if result != `(2 "ab" 1 ())` {
		t.Errorf("result = %s", result)
	}
}

func TestFileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		input   string
		errType *errorx.Type
	}{
		{fmt.Sprintf("(fopen %q)", filepath.Join(dir, "missing")), ErrIO},
		{fmt.Sprintf("(fopen %q \"q\")", filepath.Join(dir, "x")), ErrIO},
		{"(getc 'notafile)", ErrWrongType},
		{fmt.Sprintf("(define f (fopen %q \"w\")) (fclose f) (puts \"x\" f)", filepath.Join(dir, "closed")), ErrIO},
	}
	for _, tt := range tests {
		_, err := evalString(tt.input)
		if !errorx.IsOfType(err, tt.errType) {
			t.Errorf("evalString(%q) error = %v, want %s", tt.input, err, tt.errType)
		}
	}
}

func TestFilePrintsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.txt")
	in, _ := newTestInterp()
	result, err := evalIn(in, fmt.Sprintf("(define f (fopen %q \"w\")) (fclose f) f", path))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result, "#<FILE ") || !strings.HasSuffix(result, " closed>") {
		t.Errorf("closed file prints as %s", result)
	}
}

func TestCloseReleasesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.txt")
	in, _ := newTestInterp()
	if _, err := in.EvalString(fmt.Sprintf("(define f (fopen %q \"w\")) (puts \"x\" f)", path)); err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "x" {
		t.Errorf("file = %q", data)
	}
}
