package eval

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/npillmayer/schuko/tracing"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

func newTestInterp(opts ...Option) (*Interp, *bytes.Buffer) {
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out), WithVerbose(0)}, opts...)
	return New(opts...), &out
}

// evalString evaluates every form of input in a fresh interpreter and
// returns the printed value of the last one
func evalString(input string) (string, error) {
	in, _ := newTestInterp()
	return evalIn(in, input)
}

func evalIn(in *Interp, input string) (string, error) {
	v, err := in.EvalString(input)
	if err != nil {
		return "", err
	}
	return in.Sprint(v)
}

type evalCase struct {
	input    string
	expected string
}

func runEvalCases(t *testing.T, tests []evalCase) {
	t.Helper()
	for _, tt := range tests {
		result, err := evalString(tt.input)
		if err != nil {
			t.Errorf("evalString(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("evalString(%q) = %s, want %s", tt.input, result, tt.expected)
		}
	}
}

// ============================================================================
// Core Evaluation Tests
// ============================================================================

func TestSelfEvaluating(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"42", "42"},
		{"-1.5", "-1.5"},
		{`"hi"`, `"hi"`},
		{"()", "()"},
		{"t", "t"},
		{"nil", "()"},
		{"'a", "a"},
		{"'(1 . 2)", "(1 . 2)"},
		{"'(a b (c))", "(a b (c))"},
	})
}

func TestArithmetic(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"(+ 1 2)", "3"},
		{"(- 10 3)", "7"},
		{"(* 4 5)", "20"},
		{"(/ 20 4)", "5"},
		{"(/ 1 4)", "0.25"},
		{"(+ 1 (+ 2 3))", "6"},
		{"(* (+ 1 2) (- 5 2))", "9"},
		{"(+ 1 2 3 4)", "10"},
		{"(+)", "0"},
		{"(*)", "1"},
		{"(- 5)", "-5"},
		{"(/ 2)", "0.5"},
		{"(max 1 5 3)", "5"},
		{"(min 4 2 8)", "2"},
		{"(abs -3)", "3"},
		{"(sqrt 16)", "4"},
		{"(fmod 7 3)", "1"},
		{"(pow 2 10)", "1024"},
		{"(bit-and 12 10)", "8"},
		{"(bit-or 12 10)", "14"},
		{"(bit-xor 12 10)", "6"},
		{"(ash 1 4)", "16"},
	})
}

func TestComparison(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"(= 1 1)", "t"},
		{"(= 1 2)", "()"},
		{"(< 1 2)", "t"},
		{"(< 2 1)", "()"},
		{"(> 2 1)", "t"},
		{"(> 1 2)", "()"},
		{"(<= 1 1)", "t"},
		{"(>= 2 3)", "()"},
		{"(eq? 'a 'a)", "t"},
		{"(eqv? 1.5 1.5)", "t"},
		{"(equal? '(1 (2)) '(1 (2)))", "t"},
		{`(equal? "ab" "ab")`, "t"},
		{"(null? ())", "t"},
		{"(not 1)", "()"},
		{"(pair? '(1))", "t"},
		{"(number? 'a)", "()"},
		{"(symbol? 'a)", "t"},
	})
}

func TestSpecialForms(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"(if t 1 2)", "1"},
		{"(if () 1 2)", "2"},
		{"(if () 1)", "()"},
		{"(and)", "t"},
		{"(and 1 2)", "2"},
		{"(and 1 () 2)", "()"},
		{"(or () 3)", "3"},
		{"(or)", "()"},
		{"(cond (() 1) (t 2))", "2"},
		{"(cond ((+ 1 2)))", "3"},
		{"(cond (() 1))", "()"},
		{"(begin 1 2 3)", "3"},
		{"(prog1 1 2 3)", "1"},
		{"(define x 5) (set! x 6) x", "6"},
		{"(define i 0) (define s 0) (while (< i 5) (set! s (+ s i)) (set! i (+ i 1))) s", "10"},
	})
}

func TestLet(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"(let ((x 10)) x)", "10"},
		{"(let ((x 1) (y 2)) (+ x y))", "3"},
		{"(let ((x 5)) (let ((y 3)) (- x y)))", "2"},
		{"(let () 7)", "7"},
		{"(let ((x 1)) 2 x)", "1"},
		{"(let* ((x 1) (y (+ x 1))) (* x y))", "2"},
		{"(letrec ((ev (lambda (n) (if (= n 0) t (od (- n 1))))) (od (lambda (n) (if (= n 0) () (ev (- n 1)))))) (ev 10))", "t"},
	})
}

func TestLambda(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"((lambda (x) (* x x)) 5)", "25"},
		{"((lambda (x y) (+ x y)) 3 4)", "7"},
		{"((lambda x x) 1 2 3)", "(1 2 3)"},
		{"((lambda (a . rest) rest) 1 2 3)", "(2 3)"},
		{"(define (sq x) (* x x)) (sq 9)", "81"},
		{"(define (f . args) (length args)) (f 1 2 3)", "3"},
		{"(define (make-adder n) (lambda (x) (+ x n))) ((make-adder 10) 5)", "15"},
		{"(define (counter) (let ((n 0)) (lambda () (set! n (+ n 1)) n))) (define c (counter)) (c) (c) (c)", "3"},
		{"(define (g) (define y 4) (* y 2)) (g)", "8"},
	})
}

func TestTailCalls(t *testing.T) {
	in, _ := newTestInterp(WithStackLimit(200))
	result, err := evalIn(in, "(define (loop n acc) (if (= n 0) acc (loop (- n 1) (+ acc 1)))) (loop 10000 0)")
	if err != nil {
		t.Fatalf("tail loop error: %v", err)
	}
	if result != "10000" {
		t.Errorf("tail loop = %s, want 10000", result)
	}
}

func TestQuasiquote(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"`(a b)", "(a b)"},
		{"(define x 2) `(a ,x c)", "(a 2 c)"},
		{"(define l '(1 2)) `(a ,@l b)", "(a 1 2 b)"},
		{"(define l '(1 2)) `(a . ,l)", "(a 1 2)"},
		{"`(1 (2 ,(+ 1 2)))", "(1 (2 3))"},
		{"`,(+ 2 3)", "5"},
	})
}

func TestMacros(t *testing.T) {
	src := `
(define (my-unless-macro form)
  (list 'if (cadr form) () (car (cddr form))))
(define my-unless 'my-unless-macro)
(my-unless () 'ran)`
	result, err := evalString(src)
	if err != nil {
		t.Fatalf("macro error: %v", err)
	}
	if result != "ran" {
		t.Errorf("macro = %s, want ran", result)
	}
}

// ============================================================================
// Catch and Error Tests
// ============================================================================

func TestCatchThrow(t *testing.T) {
	runEvalCases(t, []evalCase{
		{"(*catch 'done (+ 1 (*throw 'done 5)))", "5"},
		{"(*catch 'outer (*catch 'inner (*throw 'outer 1)) 2)", "1"},
		{"(*catch 'a 1 2)", "2"},
		{"(*catch 'all (*throw 'anything 9))", "9"},
		{"(define (f) (*throw 'k 'x)) (*catch 'k (f) 'not-reached)", "x"},
		{`(cdr (*catch 'errobj (error "boom" 'obj)))`, "obj"},
		{`(car (*catch 'errobj (car 1)))`, `"wta to car"`},
		{`(*catch 'errobj (error '("custom" . 3)))`, `("custom" . 3)`},
	})
}

func TestErrors(t *testing.T) {
	tests := []struct {
		input   string
		errType *errorx.Type
		message string
	}{
		{"undefined-symbol", ErrUnboundVariable, "unbound variable"},
		{"(car 1)", ErrWrongType, "wta to car"},
		{"(car '())", ErrWrongType, "wta to car"},
		{"(+ 'a 1)", ErrWrongType, "wta(1st) to plus"},
		{"(cons 1)", ErrWrongArity, "wrong number of arguments to cons"},
		{"(cons 1 2 3)", ErrWrongArity, "wrong number of arguments to cons"},
		{"(apply cons '(1 2 3))", ErrWrongArity, "wrong number of arguments to cons"},
		{"((lambda (x) x))", ErrWrongArity, "too few arguments"},
		{"((lambda (x) x) 1 2)", ErrWrongArity, "too many arguments"},
		{`(error "custom failure")`, ErrUser, "custom failure"},
		{"(*throw 'nobody 1)", ErrUncaughtThrow, "no *catch found with this tag"},
		{"(1 2)", ErrWrongType, "bad function"},
	}

	for _, tt := range tests {
		_, err := evalString(tt.input)
		if err == nil {
			t.Errorf("evalString(%q) succeeded, want %s", tt.input, tt.errType)
			continue
		}
		if !errorx.IsOfType(err, tt.errType) {
			t.Errorf("evalString(%q) error = %v, want type %s", tt.input, err, tt.errType)
		}
		if msg := ErrorMessage(err); msg != tt.message {
			t.Errorf("evalString(%q) message = %q, want %q", tt.input, msg, tt.message)
		}
	}
}

func TestErrobj(t *testing.T) {
	in, _ := newTestInterp()
	_, err := in.EvalString("(car 'sym)")
	if err == nil {
		t.Fatal("expected error")
	}
	obj, ok := Errobj(err)
	if !ok {
		t.Fatal("error carries no errobj")
	}
	if got := in.MustSprint(obj); got != "sym" {
		t.Errorf("errobj = %s, want sym", got)
	}
	if got := in.ErrorReport(err); got != "ERROR: wta to car (errobj sym)" {
		t.Errorf("ErrorReport = %q", got)
	}
}

// ============================================================================
// Printer Round Trip Tests
// ============================================================================

func TestReadPrintRoundTrip(t *testing.T) {
	tests := []string{
		"42",
		"-7",
		"0.1",
		"-0.001",
		"1e21",
		"1.5e-10",
		"'sym",
		`"plain"`,
		`"quote \" backslash \\ done"`,
		`"lines\nand\ttabs\r"`,
		`"ctl \001\002\037 del \177 digits \0011"`,
		"'(1 2 3)",
		"'(a . b)",
		`'(1 (2 "x") . 3)`,
		"'((a . 1) (b . 2))",
		`'#(1 "two" (3 . 4) #(5))`,
		`#3"00ff7f"`,
		`(hexstr->bytes "0a0b")`,
		`(list "s" #2"beef" '#(x) 1.25)`,
	}
	for _, src := range tests {
		in, _ := newTestInterp()
		v, err := in.EvalString(src)
		if err != nil {
			t.Errorf("%s: %v", src, err)
			continue
		}
		release := in.Protect(&v)
		printed, err := in.Sprint(v)
		if err != nil {
			t.Errorf("%s: print error %v", src, err)
			release()
			continue
		}
		back, err := in.ReadString(printed)
		if err != nil {
			t.Errorf("%s: printed as %s, which does not read: %v", src, printed, err)
		} else if !in.Equal(v, back) {
			t.Errorf("%s: printed as %s, read back as %s", src, printed, in.MustSprint(back))
		}
		release()
	}
}

func TestNonFiniteNumbersPrint(t *testing.T) {
	in, _ := newTestInterp()
	tests := []struct {
		x    float64
		want string
	}{
		{math.Inf(1), "+Inf"},
		{math.Inf(-1), "-Inf"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		printed := in.MustSprint(in.Number(tt.x))
		if printed != tt.want {
			t.Errorf("%v printed as %s", tt.x, printed)
		}
		// no reader syntax: these come back as symbols
		back, err := in.ReadString(printed)
		if err != nil || in.Tag(back) != ast.TSymbol {
			t.Errorf("%s read back as %s, %v", printed, in.MustSprint(back), err)
		}
	}
}

func TestStackOverflow(t *testing.T) {
	in, _ := newTestInterp(WithStackLimit(100))
	_, err := in.EvalString("(define (f n) (+ 1 (f n))) (f 1)")
	if !errorx.IsOfType(err, ErrStackOverflow) {
		t.Fatalf("error = %v, want stack overflow", err)
	}
	// the interpreter stays usable afterwards
	result, err := evalIn(in, "(+ 1 1)")
	if err != nil || result != "2" {
		t.Errorf("after overflow: %s, %v", result, err)
	}
}

func TestInterrupt(t *testing.T) {
	in, _ := newTestInterp()
	in.Interrupt()
	_, err := in.EvalString("(+ 1 2)")
	if !errorx.IsOfType(err, ErrInterrupted) {
		t.Fatalf("error = %v, want interrupted", err)
	}
	if _, err := in.EvalString("(+ 1 2)"); err != nil {
		t.Errorf("interrupt delivered twice: %v", err)
	}
}

func TestNoInterruptDefers(t *testing.T) {
	in, _ := newTestInterp()
	leave := in.NoInterrupt()
	in.Interrupt()
	if _, err := in.EvalString("(+ 1 2)"); err != nil {
		t.Fatalf("interrupt delivered inside critical section: %v", err)
	}
	if err := leave(); !errorx.IsOfType(err, ErrInterrupted) {
		t.Errorf("leave = %v, want interrupted", err)
	}
}

// ============================================================================
// Host API Tests
// ============================================================================

func TestHostSubrs(t *testing.T) {
	in, _ := newTestInterp()
	in.DefineSubr2("host-add", func(a, b ast.Ref) (ast.Ref, error) {
		return in.Number(in.Num(a) + in.Num(b)), nil
	})
	in.DefineLsubr("host-count", func(args ast.Ref) (ast.Ref, error) {
		n, err := in.Length(args)
		return in.Number(float64(n)), err
	})
	in.DefineFsubr("host-quote2", func(args, env ast.Ref) (ast.Ref, error) {
		return in.Cdr(args), nil
	})

	tests := []evalCase{
		{"(host-add 2 3)", "5"},
		{"(host-count 1 2 3 4)", "4"},
		{"(host-quote2 a b c)", "(b c)"},
		{"(apply host-add '(1 1))", "2"},
		{"host-add", "#<subr_2 host-add>"},
	}
	for _, tt := range tests {
		result, err := evalIn(in, tt.input)
		if err != nil {
			t.Errorf("evalIn(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("evalIn(%q) = %s, want %s", tt.input, result, tt.expected)
		}
	}
}

func TestHostSubrArity(t *testing.T) {
	in, _ := newTestInterp()
	calls := 0
	in.DefineSubr2("host-pair", func(a, b ast.Ref) (ast.Ref, error) {
		calls++
		return in.Cons(a, b), nil
	})
	for _, src := range []string{
		"(host-pair 1)",
		"(host-pair 1 2 3)",
		"(apply host-pair '(1))",
		"(apply host-pair '(1 2 3))",
	} {
		_, err := in.EvalString(src)
		if !errorx.IsOfType(err, ErrWrongArity) {
			t.Errorf("%s: error = %v, want wrong arity", src, err)
			continue
		}
		if msg := ErrorMessage(err); msg != "wrong number of arguments to host-pair" {
			t.Errorf("%s: message = %q", src, msg)
		}
	}
	if calls != 0 {
		t.Errorf("host function called %d times with a bad argument count", calls)
	}
	if result, err := evalIn(in, "(host-pair 1 2)"); err != nil || result != "(1 . 2)" {
		t.Errorf("(host-pair 1 2) = %s, %v", result, err)
	}
}

func TestGlobals(t *testing.T) {
	in, _ := newTestInterp()
	in.SetGlobal("answer", in.Number(42))
	result, err := evalIn(in, "(+ answer 0)")
	if err != nil || result != "42" {
		t.Fatalf("answer = %s, %v", result, err)
	}
	sym, ok := in.Lookup("answer")
	if !ok {
		t.Fatal("answer not interned")
	}
	v, ok := in.Global(sym)
	if !ok || in.Num(v) != 42 {
		t.Errorf("Global(answer) = %v, %v", v, ok)
	}
	if _, ok := in.Lookup("never-seen-before"); ok {
		t.Error("Lookup interned a new symbol")
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, _ := newTestInterp()
	b, _ := newTestInterp()
	if _, err := a.EvalString("(define shared 1)"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.EvalString("shared"); !errorx.IsOfType(err, ErrUnboundVariable) {
		t.Errorf("second interpreter sees the first one's globals: %v", err)
	}
}

// ============================================================================
// Garbage Collection Tests
// ============================================================================

func gcConfigs() map[string]memory.Config {
	return map[string]memory.Config{
		"mark-sweep": {Kind: memory.KindMarkSweep, SegmentSize: 2000, MaxSegments: 4},
		"copying":    {Kind: memory.KindCopying, SegmentSize: 20000},
	}
}

func TestGCStress(t *testing.T) {
	src := `
(define (build n acc) (if (= n 0) acc (build (- n 1) (cons n acc))))
(define (sum l) (if (null? l) 0 (+ (car l) (sum (cdr l)))))
(define keep (build 100 ()))
(define i 0)
(while (< i 200)
  (build 50 ())
  (set! i (+ i 1)))
(list (sum keep) (length keep) i)`

	for name, hc := range gcConfigs() {
		t.Run(name, func(t *testing.T) {
			in, _ := newTestInterp(WithHeap(hc))
			result, err := evalIn(in, src)
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if result != "(5050 100 200)" {
				t.Errorf("result = %s, want (5050 100 200)", result)
			}
			if in.Heap().Stats().Collections == 0 {
				t.Error("expected at least one collection")
			}
		})
	}
}

func TestGCPreservesHostRoots(t *testing.T) {
	for name, hc := range gcConfigs() {
		t.Run(name, func(t *testing.T) {
			in, _ := newTestInterp(WithHeap(hc))
			kept := in.List(in.Number(1), in.String("two"), in.Intern("three"))
			release := in.Protect(&kept)
			defer release()
			if _, err := in.EvalString("(define i 0) (while (< i 300) (make-list 40 i) (set! i (+ i 1)))"); err != nil {
				t.Fatal(err)
			}
			if got := in.MustSprint(kept); got != `(1 "two" three)` {
				t.Errorf("kept = %s", got)
			}
		})
	}
}

func TestInterningSurvivesGC(t *testing.T) {
	for name, hc := range gcConfigs() {
		t.Run(name, func(t *testing.T) {
			in, _ := newTestInterp(WithHeap(hc))
			sym := in.Intern("held-only-by-the-obarray")
			release := in.Protect(&sym)
			defer release()
			in.Heap().Collect()
			if again := in.Intern("held-only-by-the-obarray"); again != sym {
				t.Errorf("interning after a collection made a second symbol")
			}

			src := "(define kept 'fresh-symbol) (define i 0) (while (< i 600) (make-list 40 i) (set! i (+ i 1)))"
			if _, err := in.EvalString(src); err != nil {
				t.Fatal(err)
			}
			if in.Heap().Stats().Collections < 2 {
				t.Errorf("collections = %d, want the loop to collect", in.Heap().Stats().Collections)
			}
			result, err := evalIn(in, "(eq? kept 'fresh-symbol)")
			if err != nil || result != "t" {
				t.Errorf("(eq? kept 'fresh-symbol) = %s, %v", result, err)
			}
		})
	}
}

func TestAfterGCHook(t *testing.T) {
	in, _ := newTestInterp(WithHeap(memory.Config{Kind: memory.KindMarkSweep, SegmentSize: 2000, MaxSegments: 4}))
	src := `
(define gc-runs 0)
(define *after-gc* '(set! gc-runs (+ gc-runs 1)))
(define i 0)
(while (< i 200) (make-list 50 i) (set! i (+ i 1)))
(> gc-runs 0)`
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatal(err)
	}
	if result != "t" {
		t.Errorf("*after-gc* never ran")
	}
}

// recordingTracer keeps every message it is asked to emit
type recordingTracer struct {
	tracing.Trace
	lines []string
}

func (r *recordingTracer) Infof(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordingTracer) Errorf(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestAfterGCErrorTraced(t *testing.T) {
	rec := &recordingTracer{}
	in, _ := newTestInterp(
		WithTracer(rec),
		WithHeap(memory.Config{Kind: memory.KindMarkSweep, SegmentSize: 2000, MaxSegments: 4}),
	)
	if in.Tracer() != tracing.Trace(rec) {
		t.Fatal("interpreter does not share the configured tracer")
	}
	src := `
(define *after-gc* '(car 'oops))
(define i 0)
(while (< i 200) (make-list 50 i) (set! i (+ i 1)))
i`
	result, err := evalIn(in, src)
	if err != nil {
		t.Fatalf("hook error escaped: %v", err)
	}
	if result != "200" {
		t.Errorf("loop stopped at %s", result)
	}
	found := false
	for _, line := range rec.lines {
		if strings.HasPrefix(line, "*after-gc*: ") && strings.Contains(line, "wta to car") {
			found = true
		}
	}
	if !found {
		t.Errorf("hook failure not traced: %q", rec.lines)
	}
}

func TestGCSubrsRequireMarkSweep(t *testing.T) {
	in, _ := newTestInterp(WithHeap(memory.Config{Kind: memory.KindCopying, SegmentSize: 10000}))
	_, err := in.EvalString("(gc)")
	if !errorx.IsOfType(err, memory.ErrCopyingMode) {
		t.Fatalf("(gc) under copying = %v", err)
	}
	if !strings.Contains(ErrorMessage(err), "mark-sweep") {
		t.Errorf("message = %q", ErrorMessage(err))
	}

	ms, _ := newTestInterp()
	if _, err := ms.EvalString("(gc)"); err != nil {
		t.Errorf("(gc) under mark-sweep: %v", err)
	}
	result, err := evalIn(ms, "(gc-info 0)")
	if err != nil || result != "()" {
		t.Errorf("(gc-info 0) = %s, %v", result, err)
	}
}
