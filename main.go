package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/npillmayer/schuko/gtrace"
	"github.com/npillmayer/schuko/tracing"
	"github.com/npillmayer/schuko/tracing/gologadapter"
	"github.com/peterh/liner"

	"siod_go/pkg/ast"
	"siod_go/pkg/eval"
	"siod_go/pkg/memory"
	"siod_go/pkg/parser"
)

const historyFile = ".siod_history"

var (
	evalExpr   = flag.String("e", "", "Evaluate expression and print the result")
	gcKind     = flag.String("g", "mark-sweep", "Garbage collector: mark-sweep or copying")
	heapSize   = flag.Int("h", 5000, "Cells per heap segment")
	maxHeaps   = flag.Int("n", 2, "Maximum number of heap segments (mark-sweep)")
	verbose    = flag.Int("v", 2, "Verbose level")
	initFile   = flag.String("i", "", "File loaded before anything else")
	quiet      = flag.Bool("q", false, "Batch mode: do not print results")
	stackLimit = flag.Int("s", 10000, "Maximum nesting of evaluations")
	libDir     = flag.String("l", "", "Directory searched by load and require")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "siod - Scheme In One Defun\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [file.scm ...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -e '(+ 1 2)'            # Evaluate expression\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s prog.scm                # Load a file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -g copying -h 100000    # REPL with the copying collector\n", os.Args[0])
	}
	flag.Parse()
	os.Exit(run())
}

func heapConfig() (memory.Config, error) {
	cfg := memory.DefaultConfig()
	switch *gcKind {
	case "mark-sweep", "ms":
		cfg.Kind = memory.KindMarkSweep
	case "copying", "stop-and-copy":
		cfg.Kind = memory.KindCopying
	default:
		return cfg, fmt.Errorf("unknown collector %q", *gcKind)
	}
	if *heapSize <= 0 || *maxHeaps <= 0 {
		return cfg, errors.New("heap size and heap count must be positive")
	}
	cfg.SegmentSize = *heapSize
	cfg.MaxSegments = *maxHeaps
	cfg.Verbose = *verbose
	return cfg, nil
}

// T traces GC and load messages of the interpreter
func T() tracing.Trace {
	return gtrace.SyntaxTracer
}

func setupTracing(level int) {
	gtrace.SyntaxTracer = gologadapter.New()
	if level >= 3 {
		T().SetTraceLevel(tracing.LevelInfo)
	} else {
		T().SetTraceLevel(tracing.LevelError)
	}
}

func run() int {
	setupTracing(*verbose)
	hc, err := heapConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	level := *verbose
	if *quiet {
		level = 0
	}
	opts := []eval.Option{
		eval.WithHeap(hc),
		eval.WithVerbose(level),
		eval.WithStackLimit(*stackLimit),
		eval.WithTracer(T()),
	}
	if *libDir != "" {
		opts = append(opts, eval.WithLibDir(*libDir))
	}
	in := eval.New(opts...)
	defer in.Close()

	// Ctrl-C during evaluation interrupts the running program
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			in.Interrupt()
		}
	}()

	if *initFile != "" {
		if _, err := in.Load(*initFile, false, true); err != nil {
			return report(in, err)
		}
	}
	for _, file := range flag.Args() {
		if _, err := in.Load(file, false, true); err != nil {
			return report(in, err)
		}
	}
	if *evalExpr != "" {
		v, err := in.EvalString(*evalExpr)
		if err != nil {
			return report(in, err)
		}
		if !*quiet {
			fmt.Println(in.MustSprint(v))
		}
		return 0
	}
	if flag.NArg() > 0 {
		return 0
	}

	if liner.TerminalSupported() && isTerminal(os.Stdin) {
		return runREPL(in)
	}
	if err := in.Repl(eval.ReplHooks{}); err != nil {
		return report(in, err)
	}
	return 0
}

func report(in *eval.Interp, err error) int {
	fmt.Fprintln(os.Stderr, in.ErrorReport(err))
	return 1
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// runREPL drives the interpreter loop from a line editor
func runREPL(in *eval.Interp) int {
	if in.Verbose() >= 2 {
		fmt.Println("Welcome to SIOD, Scheme In One Defun. Ctrl-D to exit.")
	}

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	// forms read but not yet evaluated
	pending := ast.Nil
	release := in.Protect(&pending)
	defer release()

	hooks := eval.ReplHooks{
		Puts: func(s string) {
			if s == "> " {
				return
			}
			fmt.Fprint(in.Output(), s)
		},
		Read: func() (ast.Ref, error) {
			for pending == ast.Nil {
				forms, ok, err := readForms(in, ln)
				if !ok {
					return in.EOF(), nil
				}
				if err != nil {
					return ast.Nil, err
				}
				pending = forms
			}
			form := in.Car(pending)
			pending = in.Cdr(pending)
			return form, nil
		},
	}
	err := in.Repl(hooks)

	if f, ferr := os.Create(histPath); ferr == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
	if err != nil {
		return report(in, err)
	}
	return 0
}

// readForms collects lines until they parse as complete forms and
// returns them as a list. It reports false at end of input.
func readForms(in *eval.Interp, ln *liner.State) (ast.Ref, bool, error) {
	var b strings.Builder
	for {
		prompt := "> "
		if b.Len() > 0 {
			prompt = "  "
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return ast.Nil, false, nil
		}
		if err != nil {
			// Ctrl-C drops the pending input
			b.Reset()
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.TrimSpace(src) == "" {
			b.Reset()
			continue
		}
		forms, err := in.ReadAll(src)
		if parser.IsIncomplete(err) {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
		return forms, true, err
	}
}
