package eval

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"siod_go/pkg/ast"
)

// Fast binary format
//
// Every value starts with an opcode byte: the type tag for values that
// carry data, or one of the control codes below. Integers and doubles are
// 8 bytes little endian; lengths are element counts. A store opcode gives
// the following value an id, and a fetch opcode refers back to it. The
// writer stores symbols by name across a whole stream when hashing is on,
// and stores any cons or array reached twice within one written value, so
// shared and circular structure reads back with the same shape. Lines
// starting with # between values are comments.

const (
	foComment byte = '#'
	foListd   byte = 124
	foList    byte = 125
	foStore   byte = 126
	foFetch   byte = 127
)

// maxFastID bounds store ids so a corrupt stream cannot demand a huge table
const maxFastID = 1 << 24

// FastWriter writes values in the fast binary format
type FastWriter struct {
	in    *Interp
	w     *bufio.Writer
	hash  bool
	syms  map[string]int64
	multi map[ast.Ref]bool
	ids   map[ast.Ref]int64
	next  int64
	depth int
	err   error
	buf   [8]byte
}

// NewFastWriter returns a writer on w. With hashSymbols each symbol name
// is written once per stream and fetched by id afterwards.
func (in *Interp) NewFastWriter(w io.Writer, hashSymbols bool) *FastWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &FastWriter{in: in, w: bw, hash: hashSymbols, syms: map[string]int64{}}
}

// Write writes one value and flushes. The value must not change while it
// is written; user FastPrint hooks must not allocate.
func (fw *FastWriter) Write(x ast.Ref) error {
	fw.findShared(x)
	fw.ids = map[ast.Ref]int64{}
	err := fw.print(x)
	fw.multi, fw.ids = nil, nil
	if err != nil {
		return err
	}
	if err := fw.w.Flush(); err != nil {
		fw.err = ErrIO.Wrap(err, "fast-print")
	}
	return fw.err
}

// WriteComment writes text verbatim, for headers
func (fw *FastWriter) WriteComment(text string) error {
	fw.writeRaw([]byte(text))
	if fw.err == nil {
		if err := fw.w.Flush(); err != nil {
			fw.err = ErrIO.Wrap(err, "fast-print")
		}
	}
	return fw.err
}

// findShared marks every cons or array reached more than once from x
func (fw *FastWriter) findShared(x ast.Ref) {
	h := fw.in.h
	seen := map[ast.Ref]bool{}
	fw.multi = map[ast.Ref]bool{}
	stack := []ast.Ref{x}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for x != ast.Nil {
			tag := h.Tag(x)
			if tag == ast.TFlonum || tag == ast.TSymbol || ast.IsBuiltin(tag) && tag != ast.TCons {
				break
			}
			if seen[x] {
				fw.multi[x] = true
				break
			}
			seen[x] = true
			if tag != ast.TCons {
				if data, ok := h.Cell(x).Payload.([]ast.Ref); ok {
					stack = append(stack, data...)
				}
				break
			}
			stack = append(stack, h.Cell(x).Car)
			x = h.Cell(x).Cdr
		}
	}
}

func (fw *FastWriter) writeRaw(p []byte) {
	if fw.err != nil {
		return
	}
	if _, err := fw.w.Write(p); err != nil {
		fw.err = ErrIO.Wrap(err, "fast-print")
	}
}

func (fw *FastWriter) writeByte(c byte) {
	if fw.err != nil {
		return
	}
	if err := fw.w.WriteByte(c); err != nil {
		fw.err = ErrIO.Wrap(err, "fast-print")
	}
}

func (fw *FastWriter) writeLong(v int64) {
	binary.LittleEndian.PutUint64(fw.buf[:], uint64(v))
	fw.writeRaw(fw.buf[:])
}

func (fw *FastWriter) writeDouble(v float64) {
	binary.LittleEndian.PutUint64(fw.buf[:], math.Float64bits(v))
	fw.writeRaw(fw.buf[:])
}

// writeBytes writes a tag, a length and the raw bytes
func (fw *FastWriter) writeBytes(tag ast.Tag, data []byte) error {
	fw.writeByte(byte(tag))
	fw.writeLong(int64(len(data)))
	fw.writeRaw(data)
	return fw.err
}

// Print writes x as part of the value being written; for use by hooks
func (fw *FastWriter) Print(x ast.Ref) error { return fw.print(x) }

// WriteByte, WriteLong, WriteDouble and WriteRaw let hooks emit their data
func (fw *FastWriter) WriteByte(c byte) error { fw.writeByte(c); return fw.err }

func (fw *FastWriter) WriteLong(v int64) error { fw.writeLong(v); return fw.err }

func (fw *FastWriter) WriteDouble(v float64) error { fw.writeDouble(v); return fw.err }

func (fw *FastWriter) WriteRaw(p []byte) error { fw.writeRaw(p); return fw.err }

func (fw *FastWriter) print(x ast.Ref) error {
	if fw.err != nil {
		return fw.err
	}
	in := fw.in
	fw.depth++
	defer func() { fw.depth-- }()
	if fw.depth > in.stackLimit {
		return in.raise(ErrStackOverflow, ast.Nil, "the currently assigned stack limit has been exceeded")
	}
	if err := in.poll(); err != nil {
		return err
	}
	h := in.h
	tag := h.Tag(x)
	switch tag {
	case ast.TNil:
		fw.writeByte(byte(ast.TNil))
		return fw.err
	case ast.TFlonum:
		fw.writeByte(byte(ast.TFlonum))
		fw.writeDouble(h.Cell(x).Num)
		return fw.err
	case ast.TSymbol:
		name := h.Cell(x).Name
		if fw.hash {
			if id, ok := fw.syms[name]; ok {
				fw.writeByte(foFetch)
				fw.writeLong(id)
				return fw.err
			}
			fw.syms[name] = fw.next
			fw.writeByte(foStore)
			fw.writeLong(fw.next)
			fw.next++
		}
		return fw.writeBytes(ast.TSymbol, []byte(name))
	}
	if ast.IsBuiltin(tag) && tag != ast.TCons {
		return in.raise(ErrWrongType, x, "cannot fast-print")
	}
	if fw.multi[x] {
		if id, ok := fw.ids[x]; ok {
			fw.writeByte(foFetch)
			fw.writeLong(id)
			return fw.err
		}
		fw.ids[x] = fw.next
		fw.writeByte(foStore)
		fw.writeLong(fw.next)
		fw.next++
	}
	if tag == ast.TCons {
		return fw.printList(x)
	}
	return in.hooks(tag).FastPrint(fw, x)
}

// printList writes the run of unshared conses starting at x as one list
func (fw *FastWriter) printList(x ast.Ref) error {
	h := fw.in.h
	n := 0
	tail := x
	for fw.in.consp(tail) && (n == 0 || !fw.multi[tail]) {
		n++
		tail = h.Cell(tail).Cdr
	}
	if n == 1 {
		fw.writeByte(byte(ast.TCons))
		if err := fw.print(h.Cell(x).Car); err != nil {
			return err
		}
		return fw.print(h.Cell(x).Cdr)
	}
	if tail == ast.Nil {
		fw.writeByte(foList)
	} else {
		fw.writeByte(foListd)
	}
	fw.writeLong(int64(n))
	l := x
	for i := 0; i < n; i++ {
		if err := fw.print(h.Cell(l).Car); err != nil {
			return err
		}
		l = h.Cell(l).Cdr
	}
	if tail != ast.Nil {
		return fw.print(tail)
	}
	return fw.err
}

// FastReader reads values in the fast binary format
type FastReader struct {
	in    *Interp
	r     *bufio.Reader
	ids   []ast.Ref
	cur   int64
	depth int
	buf   [8]byte
}

// NewFastReader returns a reader on r
func (in *Interp) NewFastReader(r io.Reader) *FastReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FastReader{in: in, r: br, cur: -1}
}

// Read returns the next value, or the eof object once the input is
// exhausted
func (fr *FastReader) Read() (ast.Ref, error) {
	release := fr.root()
	defer release()
	for {
		c, err := fr.r.ReadByte()
		if err == io.EOF {
			return fr.in.eof, nil
		}
		if err != nil {
			return ast.Nil, ErrIO.Wrap(err, "fast-read")
		}
		if c == foComment {
			if err := fr.skipLine(); err != nil {
				if err == io.EOF {
					return fr.in.eof, nil
				}
				return ast.Nil, ErrIO.Wrap(err, "fast-read")
			}
			continue
		}
		fr.cur = -1
		return fr.dispatch(c)
	}
}

// root makes the id table a root until the returned function is called
func (fr *FastReader) root() func() {
	in := fr.in
	in.fastReaders = append(in.fastReaders, fr)
	n := len(in.fastReaders)
	return func() { in.fastReaders = in.fastReaders[:n-1] }
}

func (fr *FastReader) skipLine() error {
	for {
		c, err := fr.r.ReadByte()
		if err != nil {
			return err
		}
		if c == '\n' {
			return nil
		}
	}
}

// opcode reads the next opcode inside a value
func (fr *FastReader) opcode() (byte, error) {
	for {
		c, err := fr.r.ReadByte()
		if err != nil {
			return 0, fr.ioError(err)
		}
		if c != foComment {
			return c, nil
		}
		if err := fr.skipLine(); err != nil {
			return 0, fr.ioError(err)
		}
	}
}

func (fr *FastReader) ioError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fr.in.raise(ErrIO, ast.Nil, "fast-read: unexpected end of file")
	}
	return ErrIO.Wrap(err, "fast-read")
}

// read reads one nested value
func (fr *FastReader) read() (ast.Ref, error) {
	c, err := fr.opcode()
	if err != nil {
		return ast.Nil, err
	}
	fr.cur = -1
	return fr.dispatch(c)
}

// ReadValue reads a nested value; for use by hooks
func (fr *FastReader) ReadValue() (ast.Ref, error) { return fr.read() }

// bind gives x the id of the store opcode that introduced the value being
// read. Constructors of containers call it before reading their elements.
func (fr *FastReader) bind(x ast.Ref) {
	if fr.cur < 0 {
		return
	}
	id := fr.cur
	fr.cur = -1
	for int64(len(fr.ids)) <= id {
		fr.ids = append(fr.ids, ast.Nil)
	}
	fr.ids[id] = x
}

// Bind is bind for hooks whose values may contain themselves
func (fr *FastReader) Bind(x ast.Ref) { fr.bind(x) }

func (fr *FastReader) readLong() (int64, error) {
	if _, err := io.ReadFull(fr.r, fr.buf[:]); err != nil {
		return 0, fr.ioError(err)
	}
	return int64(binary.LittleEndian.Uint64(fr.buf[:])), nil
}

func (fr *FastReader) readDouble() (float64, error) {
	if _, err := io.ReadFull(fr.r, fr.buf[:]); err != nil {
		return 0, fr.ioError(err)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(fr.buf[:])), nil
}

// readDim reads a length
func (fr *FastReader) readDim() (int, error) {
	n, err := fr.readLong()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fr.in.raise(ErrIO, fr.in.Number(float64(n)), "fast-read: bad length")
	}
	return int(n), nil
}

// ReadLong, ReadDouble and ReadRaw let hooks read their data
func (fr *FastReader) ReadLong() (int64, error) { return fr.readLong() }

func (fr *FastReader) ReadDouble() (float64, error) { return fr.readDouble() }

func (fr *FastReader) ReadRaw(n int) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		return nil, fr.ioError(err)
	}
	return data, nil
}

// readBytes reads a length and that many bytes into a string or byte array
func (fr *FastReader) readBytes(tag ast.Tag) (ast.Ref, error) {
	n, err := fr.readDim()
	if err != nil {
		return ast.Nil, err
	}
	data, err := fr.ReadRaw(n)
	if err != nil {
		return ast.Nil, err
	}
	return fr.in.NewCell(tag, data), nil
}

func (fr *FastReader) dispatch(c byte) (ast.Ref, error) {
	in := fr.in
	fr.depth++
	defer func() { fr.depth-- }()
	if fr.depth > in.stackLimit {
		return ast.Nil, in.raise(ErrStackOverflow, ast.Nil, "the currently assigned stack limit has been exceeded")
	}
	if err := in.poll(); err != nil {
		return ast.Nil, err
	}
	switch c {
	case byte(ast.TNil):
		return ast.Nil, nil
	case foFetch:
		id, err := fr.readLong()
		if err != nil {
			return ast.Nil, err
		}
		if id < 0 || id >= int64(len(fr.ids)) || fr.ids[id] == ast.Nil {
			return ast.Nil, in.raise(ErrIO, in.Number(float64(id)), "fast-read: unknown object id")
		}
		return fr.ids[id], nil
	case foStore:
		id, err := fr.readLong()
		if err != nil {
			return ast.Nil, err
		}
		if id < 0 || id >= maxFastID {
			return ast.Nil, in.raise(ErrIO, in.Number(float64(id)), "fast-read: bad object id")
		}
		op, err := fr.opcode()
		if err != nil {
			return ast.Nil, err
		}
		fr.cur = id
		x, err := fr.dispatch(op)
		if err != nil {
			return ast.Nil, err
		}
		if id >= int64(len(fr.ids)) || fr.ids[id] == ast.Nil {
			fr.cur = id
			fr.bind(x)
		}
		return x, nil
	case byte(ast.TCons):
		cell := in.h.Cons(ast.Nil, ast.Nil)
		release := in.h.Protect(&cell)
		defer release()
		fr.bind(cell)
		car, err := fr.read()
		if err != nil {
			return ast.Nil, err
		}
		in.setCar(cell, car)
		cdr, err := fr.read()
		if err != nil {
			return ast.Nil, err
		}
		in.setCdr(cell, cdr)
		return cell, nil
	case foList, foListd:
		return fr.readList(c == foListd)
	case byte(ast.TFlonum):
		v, err := fr.readDouble()
		if err != nil {
			return ast.Nil, err
		}
		return in.Number(v), nil
	case byte(ast.TSymbol):
		n, err := fr.readDim()
		if err != nil {
			return ast.Nil, err
		}
		name, err := fr.ReadRaw(n)
		if err != nil {
			return ast.Nil, err
		}
		return in.Intern(string(name)), nil
	}
	return in.hooks(ast.Tag(c)).FastRead(fr, c)
}

// readList reads n elements into a fresh list, then the tail if dotted
func (fr *FastReader) readList(dotted bool) (ast.Ref, error) {
	in := fr.in
	n, err := fr.readDim()
	if err != nil {
		return ast.Nil, err
	}
	var head, l, last ast.Ref
	release := in.h.Protect(&head, &l, &last)
	defer release()
	for i := 0; i < n; i++ {
		head = in.h.Cons(ast.Nil, head)
	}
	fr.bind(head)
	for l = head; l != ast.Nil; l = in.Cdr(l) {
		x, err := fr.read()
		if err != nil {
			return ast.Nil, err
		}
		in.setCar(l, x)
		last = l
	}
	if dotted {
		tail, err := fr.read()
		if err != nil {
			return ast.Nil, err
		}
		if last == ast.Nil {
			return tail, nil
		}
		in.setCdr(last, tail)
	}
	return head, nil
}

// FastSave writes forms to a new file with the standard header. comment,
// when not empty, precedes the header verbatim.
func (in *Interp) FastSave(path string, forms ast.Ref, hashSymbols bool, comment string) error {
	in.tracef(3, "fast saving forms to %s", path)
	f, err := os.Create(path)
	if err != nil {
		return in.raise(ErrIO, in.String(path), "could not open %s: %v", path, err)
	}
	defer f.Close()

	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	var fone [8]byte
	binary.LittleEndian.PutUint64(fone[:], math.Float64bits(1.0))
	header := comment +
		"# Siod Binary Object Save File\n" +
		"# sizeof(long) = 8\n# sizeof(double) = 8\n" +
		fmt.Sprintf("# 1 = %X\n", one[:]) +
		fmt.Sprintf("# 1.0 = %X\n", fone[:])

	release := in.h.Protect(&forms)
	defer release()
	fw := in.NewFastWriter(f, hashSymbols)
	if err := fw.WriteComment(header); err != nil {
		return err
	}
	for l := forms; l != ast.Nil; l = in.Cdr(l) {
		if err := fw.Write(in.Car(l)); err != nil {
			return err
		}
	}
	if err := f.Close(); err != nil {
		return ErrIO.Wrap(err, "fast-save %s", path)
	}
	in.tracef(3, "done.")
	return nil
}

// FastLoad reads every value of a fast-save file. It evaluates each one in
// the global environment, or with noeval returns them as a list.
func (in *Interp) FastLoad(path string, noeval bool) (ast.Ref, error) {
	in.tracef(3, "fast loading %s", path)
	f, err := os.Open(path)
	if err != nil {
		return ast.Nil, in.raise(ErrIO, in.String(path), "could not open %s: %v", path, err)
	}
	defer f.Close()

	fr := in.NewFastReader(f)
	unroot := fr.root()
	defer unroot()
	b := in.newListBuilder()
	defer b.release()
	var form ast.Ref
	release := in.h.Protect(&form)
	defer release()
	for {
		if form, err = fr.Read(); err != nil {
			return ast.Nil, err
		}
		if form == in.eof {
			break
		}
		if in.verbose >= 5 {
			in.Print(in.out, form)
		}
		if noeval {
			b.add(form)
		} else if _, err := in.Eval(form, ast.Nil); err != nil {
			return ast.Nil, err
		}
	}
	in.tracef(3, "done.")
	return b.head, nil
}

func (in *Interp) initFastSubrs() {
	in.defineOpt("fast-save", 2, in.fastSave)
	in.defineOpt("fast-load", 1, in.fastLoad)
	in.defineOpt("fast-print", 1, in.fastPrint)
	in.defineOpt("fast-read", 0, in.fastRead)
}

func (in *Interp) fastSave(fname, forms, nohash, comment ast.Ref) (ast.Ref, error) {
	path, err := in.getString(fname)
	if err != nil {
		return ast.Nil, err
	}
	var text string
	if comment != ast.Nil {
		if text, err = in.getString(comment); err != nil {
			return ast.Nil, err
		}
	}
	return ast.Nil, in.FastSave(path, forms, nohash == ast.Nil, text)
}

func (in *Interp) fastLoad(fname, noeval ast.Ref) (ast.Ref, error) {
	path, err := in.getString(fname)
	if err != nil {
		return ast.Nil, err
	}
	return in.FastLoad(path, noeval != ast.Nil)
}

// fastPrint writes obj to a file opened with fopen, keeping symbol ids
// for the life of the file
func (in *Interp) fastPrint(obj, file ast.Ref) (ast.Ref, error) {
	fh, err := in.fileArg(file)
	if err != nil {
		return ast.Nil, err
	}
	if fh.fw == nil {
		fh.fw = in.NewFastWriter(fh, true)
	}
	return ast.Nil, fh.fw.Write(obj)
}

func (in *Interp) fastRead(file ast.Ref) (ast.Ref, error) {
	fh, err := in.fileArg(file)
	if err != nil {
		return ast.Nil, err
	}
	if fh.fr == nil {
		fh.fr = in.NewFastReader(fh.reader())
	}
	return fh.fr.Read()
}
