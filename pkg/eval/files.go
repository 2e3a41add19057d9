package eval

import (
	"bufio"
	"io"
	"os"
	"strings"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
	"siod_go/pkg/parser"
)

// File streams
//
// A file cell holds a *fileHandle. Reads go through a bufio.Reader so that
// getc, ungetc, read and fast-read can share one stream; a write first
// gives back whatever the reader buffered. The handle is closed by fclose
// or when the cell is collected.

type fileHandle struct {
	name string
	f    *os.File
	r    *bufio.Reader
	fr   *FastReader
	fw   *FastWriter
}

func (fh *fileHandle) reader() *bufio.Reader {
	if fh.r == nil {
		fh.r = bufio.NewReader(fh.f)
	}
	return fh.r
}

// resync moves the file offset back over bytes read ahead but not consumed
func (fh *fileHandle) resync() {
	if fh.r == nil || fh.r.Buffered() == 0 {
		return
	}
	fh.f.Seek(-int64(fh.r.Buffered()), io.SeekCurrent)
	fh.r.Reset(fh.f)
}

func (fh *fileHandle) Write(p []byte) (int, error) {
	fh.resync()
	return fh.f.Write(p)
}

func (fh *fileHandle) tell() (int64, error) {
	pos, err := fh.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if fh.r != nil {
		pos -= int64(fh.r.Buffered())
	}
	return pos, nil
}

func (fh *fileHandle) seek(offset int64, whence int) error {
	if whence == io.SeekCurrent && fh.r != nil {
		offset -= int64(fh.r.Buffered())
	}
	if _, err := fh.f.Seek(offset, whence); err != nil {
		return err
	}
	if fh.r != nil {
		fh.r.Reset(fh.f)
	}
	return nil
}

func (fh *fileHandle) close() error {
	if fh.f == nil {
		return nil
	}
	f := fh.f
	fh.f, fh.r, fh.fr, fh.fw = nil, nil, nil, nil
	return f.Close()
}

type fileHooks struct{ DefaultHooks }

func (fileHooks) Name() string { return "tc_c_file" }

func (fileHooks) Print(p *Printer, r ast.Ref) error {
	fh := p.in.h.Cell(r).Payload.(*fileHandle)
	if fh.f == nil {
		p.Printf("#<FILE %s closed>", fh.name)
	} else {
		p.Printf("#<FILE %s>", fh.name)
	}
	return nil
}

// Scan and Mark keep the ids of a pending fast-read alive
func (fileHooks) Scan(h *memory.Heap, r ast.Ref) {
	fh := h.Cell(r).Payload.(*fileHandle)
	if fh.fr == nil {
		return
	}
	for i := range fh.fr.ids {
		fh.fr.ids[i] = h.Relocate(fh.fr.ids[i])
	}
}

func (fileHooks) Mark(h *memory.Heap, r ast.Ref) ast.Ref {
	fh := h.Cell(r).Payload.(*fileHandle)
	if fh.fr != nil {
		for _, x := range fh.fr.ids {
			h.Mark(x)
		}
	}
	return ast.Nil
}

func (fileHooks) Free(h *memory.Heap, r ast.Ref) {
	if fh, ok := h.Cell(r).Payload.(*fileHandle); ok {
		fh.close()
	}
}

// openFlags maps a C stdio mode to os.OpenFile flags
func openFlags(mode string) (int, bool) {
	mode = strings.ReplaceAll(mode, "b", "")
	switch mode {
	case "r":
		return os.O_RDONLY, true
	case "w":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, true
	case "a":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, true
	case "r+":
		return os.O_RDWR, true
	case "w+":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, true
	case "a+":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, true
	}
	return 0, false
}

// Open opens a file with a C stdio mode and returns the file cell
func (in *Interp) Open(name, mode string) (ast.Ref, error) {
	flags, ok := openFlags(mode)
	if !ok {
		return ast.Nil, in.raise(ErrIO, in.String(mode), "bad file mode")
	}
	f, err := os.OpenFile(name, flags, 0o666)
	if err != nil {
		return ast.Nil, in.raise(ErrIO, in.String(err.Error()), "could not open %s", name)
	}
	return in.NewCell(ast.TFile, &fileHandle{name: name, f: f}), nil
}

// fileArg returns the open handle of a file cell
func (in *Interp) fileArg(x ast.Ref) (*fileHandle, error) {
	if in.h.Tag(x) != ast.TFile {
		return nil, in.raise(ErrWrongType, x, "not a file")
	}
	fh := in.h.Cell(x).Payload.(*fileHandle)
	if fh.f == nil {
		return nil, in.raise(ErrIO, x, "file is closed")
	}
	return fh, nil
}

// readerOf returns the input stream named by x; () is standard input
func (in *Interp) readerOf(x ast.Ref) (*bufio.Reader, error) {
	if x == ast.Nil {
		return in.input, nil
	}
	fh, err := in.fileArg(x)
	if err != nil {
		return nil, err
	}
	return fh.reader(), nil
}

// writerOf returns the output stream named by x; () is the interpreter
// output
func (in *Interp) writerOf(x ast.Ref) (io.Writer, error) {
	if x == ast.Nil {
		return in.out, nil
	}
	fh, err := in.fileArg(x)
	if err != nil {
		return nil, err
	}
	return fh, nil
}

func (in *Interp) initFileSubrs() {
	in.defineOpt("fopen", 1, in.fopen)
	in.DefineSubr1("fclose", in.fclose)
	in.defineOpt("getc", 0, in.getc)
	in.defineOpt("ungetc", 1, in.ungetc)
	in.defineOpt("putc", 1, in.putc)
	in.defineOpt("puts", 1, in.puts)
	in.DefineSubr1("ftell", in.ftell)
	in.DefineSubr3("fseek", in.fseek)
	in.defineOpt("fflush", 0, in.fflush)
	in.defineOpt("fread", 1, in.fread)
	in.defineOpt("fwrite", 1, in.fwrite)
}

func (in *Interp) fopen(name, how ast.Ref) (ast.Ref, error) {
	path, err := in.getString(name)
	if err != nil {
		return ast.Nil, err
	}
	mode := "r"
	if how != ast.Nil {
		if mode, err = in.getString(how); err != nil {
			return ast.Nil, err
		}
	}
	return in.Open(path, mode)
}

func (in *Interp) fclose(file ast.Ref) (ast.Ref, error) {
	if in.h.Tag(file) != ast.TFile {
		return ast.Nil, in.raise(ErrWrongType, file, "not a file")
	}
	restore := in.NoInterrupt()
	err := in.h.Cell(file).Payload.(*fileHandle).close()
	if rerr := restore(); rerr != nil {
		return ast.Nil, rerr
	}
	if err != nil {
		return ast.Nil, ErrIO.Wrap(err, "fclose")
	}
	return ast.Nil, nil
}

func (in *Interp) getc(file ast.Ref) (ast.Ref, error) {
	r, err := in.readerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	c, err := r.ReadByte()
	if err == io.EOF {
		return ast.Nil, nil
	}
	if err != nil {
		return ast.Nil, ErrIO.Wrap(err, "getc")
	}
	return in.Number(float64(c)), nil
}

// ungetc pushes back the last character read; c is otherwise ignored
func (in *Interp) ungetc(c, file ast.Ref) (ast.Ref, error) {
	if c == ast.Nil {
		return ast.Nil, nil
	}
	if _, err := in.getLong(c); err != nil {
		return ast.Nil, err
	}
	r, err := in.readerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	if err := r.UnreadByte(); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "ungetc")
	}
	return ast.Nil, nil
}

func (in *Interp) putc(c, file ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	var b byte
	if in.h.Tag(c) == ast.TFlonum {
		b = byte(int64(in.Num(c)))
	} else {
		s, err := in.getString(c)
		if err != nil {
			return ast.Nil, err
		}
		if s != "" {
			b = s[0]
		}
	}
	if _, err := w.Write([]byte{b}); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "putc")
	}
	return ast.Nil, nil
}

func (in *Interp) puts(str, file ast.Ref) (ast.Ref, error) {
	s, err := in.getString(str)
	if err != nil {
		return ast.Nil, err
	}
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "puts")
	}
	return ast.Nil, nil
}

func (in *Interp) ftell(file ast.Ref) (ast.Ref, error) {
	fh, err := in.fileArg(file)
	if err != nil {
		return ast.Nil, err
	}
	pos, err := fh.tell()
	if err != nil {
		return ast.Nil, ErrIO.Wrap(err, "ftell")
	}
	return in.Number(float64(pos)), nil
}

// fseek returns t on success and () on failure
func (in *Interp) fseek(file, offset, direction ast.Ref) (ast.Ref, error) {
	fh, err := in.fileArg(file)
	if err != nil {
		return ast.Nil, err
	}
	off, err := in.getLong(offset)
	if err != nil {
		return ast.Nil, err
	}
	whence, err := in.getLong(direction)
	if err != nil {
		return ast.Nil, err
	}
	if whence < 0 || whence > 2 {
		return ast.Nil, nil
	}
	return in.Truth(fh.seek(off, int(whence)) == nil), nil
}

type flusher interface{ Flush() error }

func (in *Interp) fflush(file ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	switch f := w.(type) {
	case *fileHandle:
		err = f.f.Sync()
	case flusher:
		err = f.Flush()
	}
	if err != nil {
		return ast.Nil, ErrIO.Wrap(err, "fflush")
	}
	return ast.Nil, nil
}

// fread reads into an existing string, returning the count, or reads up
// to n bytes into a new string. It returns () at end of file.
func (in *Interp) fread(size, file ast.Ref) (ast.Ref, error) {
	r, err := in.readerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	switch in.h.Tag(size) {
	case ast.TString, ast.TByteArray:
		buf := in.h.Cell(size).Payload.([]byte)
		n, err := io.ReadFull(r, buf)
		if n == 0 {
			return ast.Nil, nil
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return ast.Nil, ErrIO.Wrap(err, "fread")
		}
		return in.Number(float64(n)), nil
	}
	n, err := in.getLong(size)
	if err != nil {
		return ast.Nil, err
	}
	if n < 0 {
		return ast.Nil, in.raise(ErrWrongType, size, "bad size to fread")
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if got == 0 {
		return ast.Nil, nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return ast.Nil, ErrIO.Wrap(err, "fread")
	}
	return in.NewCell(ast.TString, buf[:got]), nil
}

// fwrite writes a string, or the first n bytes of one given as (string n)
func (in *Interp) fwrite(data, file ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	src := data
	if in.consp(data) {
		src = in.Car(data)
	}
	buf, err := in.getBytes(src)
	if err != nil {
		return ast.Nil, err
	}
	n := int64(len(buf))
	if in.consp(data) {
		if n, err = in.getLong(in.cadr(data)); err != nil {
			return ast.Nil, err
		}
	}
	if n <= 0 {
		return ast.Nil, nil
	}
	if n > int64(len(buf)) {
		return ast.Nil, in.raise(ErrWrongType, data, "write length too long")
	}
	if _, err := w.Write(buf[:n]); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "fwrite")
	}
	return ast.Nil, nil
}

// ReadForm reads one form from r; at end of input it returns the eof
// object
func (in *Interp) ReadForm(r *bufio.Reader) (ast.Ref, error) {
	return parser.New(r, readBuilder{in}).Parse()
}
