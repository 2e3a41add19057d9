package eval

import (
	"bytes"
	"encoding/hex"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

// Strings and arrays
//
// Strings and byte arrays hold a []byte, double arrays a []float64, long
// arrays an []int64 and lisp arrays an []ast.Ref. Only lisp arrays hold
// references, so only they scan and mark.

type stringHooks struct{ DefaultHooks }

func (stringHooks) Name() string { return "tc_string" }

func (stringHooks) Print(p *Printer, r ast.Ref) error {
	data := p.in.h.Cell(r).Payload.([]byte)
	if p.raw {
		p.buf.Write(data)
		return nil
	}
	p.WriteString(`"`)
	for _, c := range data {
		switch c {
		case '\\', '"':
			p.buf.WriteByte('\\')
			p.buf.WriteByte(c)
		case '\n':
			p.WriteString(`\n`)
		case '\r':
			p.WriteString(`\r`)
		case '\t':
			p.WriteString(`\t`)
		default:
			if c < ' ' || c == 0x7f {
				// three octal digits so a following digit is not absorbed
				p.buf.Write([]byte{'\\', '0' + c>>6, '0' + c>>3&7, '0' + c&7})
				continue
			}
			p.buf.WriteByte(c)
		}
	}
	p.WriteString(`"`)
	return nil
}

func (stringHooks) Hash(in *Interp, r ast.Ref, n uint64) uint64 {
	return hashBytes(string(in.h.Cell(r).Payload.([]byte)), n)
}

func (stringHooks) Equal(in *Interp, a, b ast.Ref) bool {
	return bytes.Equal(in.h.Cell(a).Payload.([]byte), in.h.Cell(b).Payload.([]byte))
}

func (stringHooks) FastPrint(fw *FastWriter, r ast.Ref) error {
	return fw.writeBytes(ast.TString, fw.in.h.Cell(r).Payload.([]byte))
}

func (stringHooks) FastRead(fr *FastReader, code byte) (ast.Ref, error) {
	return fr.readBytes(ast.TString)
}

type byteArrayHooks struct{ stringHooks }

func (byteArrayHooks) Name() string { return "tc_byte_array" }

func (byteArrayHooks) Print(p *Printer, r ast.Ref) error {
	data := p.in.h.Cell(r).Payload.([]byte)
	p.Printf("#%d\"%s\"", len(data), hex.EncodeToString(data))
	return nil
}

func (byteArrayHooks) FastPrint(fw *FastWriter, r ast.Ref) error {
	return fw.writeBytes(ast.TByteArray, fw.in.h.Cell(r).Payload.([]byte))
}

func (byteArrayHooks) FastRead(fr *FastReader, code byte) (ast.Ref, error) {
	return fr.readBytes(ast.TByteArray)
}

type doubleArrayHooks struct{ DefaultHooks }

func (doubleArrayHooks) Name() string { return "tc_double_array" }

func (doubleArrayHooks) Print(p *Printer, r ast.Ref) error {
	p.WriteString("#(")
	for i, v := range p.in.h.Cell(r).Payload.([]float64) {
		if i > 0 {
			p.WriteString(" ")
		}
		p.WriteString(FormatNumber(v))
	}
	p.WriteString(")")
	return nil
}

func (doubleArrayHooks) Hash(in *Interp, r ast.Ref, n uint64) uint64 {
	var hash uint64
	for _, v := range in.h.Cell(r).Payload.([]float64) {
		hash = hashCombine(hash, uint64(v)%n, n)
	}
	return hash
}

func (doubleArrayHooks) Equal(in *Interp, a, b ast.Ref) bool {
	x, y := in.h.Cell(a).Payload.([]float64), in.h.Cell(b).Payload.([]float64)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (doubleArrayHooks) FastPrint(fw *FastWriter, r ast.Ref) error {
	data := fw.in.h.Cell(r).Payload.([]float64)
	fw.writeByte(byte(ast.TDoubleArray))
	fw.writeLong(int64(len(data)))
	for _, v := range data {
		fw.writeDouble(v)
	}
	return fw.err
}

func (doubleArrayHooks) FastRead(fr *FastReader, code byte) (ast.Ref, error) {
	n, err := fr.readDim()
	if err != nil {
		return ast.Nil, err
	}
	data := make([]float64, n)
	for i := range data {
		if data[i], err = fr.readDouble(); err != nil {
			return ast.Nil, err
		}
	}
	return fr.in.NewCell(ast.TDoubleArray, data), nil
}

type longArrayHooks struct{ DefaultHooks }

func (longArrayHooks) Name() string { return "tc_long_array" }

func (longArrayHooks) Print(p *Printer, r ast.Ref) error {
	p.WriteString("#(")
	for i, v := range p.in.h.Cell(r).Payload.([]int64) {
		if i > 0 {
			p.WriteString(" ")
		}
		p.Printf("%d", v)
	}
	p.WriteString(")")
	return nil
}

func (longArrayHooks) Hash(in *Interp, r ast.Ref, n uint64) uint64 {
	var hash uint64
	for _, v := range in.h.Cell(r).Payload.([]int64) {
		hash = hashCombine(hash, uint64(v)%n, n)
	}
	return hash
}

func (longArrayHooks) Equal(in *Interp, a, b ast.Ref) bool {
	x, y := in.h.Cell(a).Payload.([]int64), in.h.Cell(b).Payload.([]int64)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (longArrayHooks) FastPrint(fw *FastWriter, r ast.Ref) error {
	data := fw.in.h.Cell(r).Payload.([]int64)
	fw.writeByte(byte(ast.TLongArray))
	fw.writeLong(int64(len(data)))
	for _, v := range data {
		fw.writeLong(v)
	}
	return fw.err
}

func (longArrayHooks) FastRead(fr *FastReader, code byte) (ast.Ref, error) {
	n, err := fr.readDim()
	if err != nil {
		return ast.Nil, err
	}
	data := make([]int64, n)
	for i := range data {
		if data[i], err = fr.readLong(); err != nil {
			return ast.Nil, err
		}
	}
	return fr.in.NewCell(ast.TLongArray, data), nil
}

type lispArrayHooks struct{ DefaultHooks }

func (lispArrayHooks) Name() string { return "tc_lisp_array" }

func (lispArrayHooks) Scan(h *memory.Heap, r ast.Ref) {
	data := h.Cell(r).Payload.([]ast.Ref)
	for i := range data {
		data[i] = h.Relocate(data[i])
	}
}

func (lispArrayHooks) Mark(h *memory.Heap, r ast.Ref) ast.Ref {
	for _, x := range h.Cell(r).Payload.([]ast.Ref) {
		h.Mark(x)
	}
	return ast.Nil
}

func (lispArrayHooks) Print(p *Printer, r ast.Ref) error {
	p.WriteString("#(")
	data := p.in.h.Cell(r).Payload.([]ast.Ref)
	for i, x := range data {
		if i > 0 {
			p.WriteString(" ")
		}
		if err := p.Print(x); err != nil {
			return err
		}
	}
	p.WriteString(")")
	return nil
}

func (lispArrayHooks) Hash(in *Interp, r ast.Ref, n uint64) uint64 {
	var hash uint64
	for _, x := range in.h.Cell(r).Payload.([]ast.Ref) {
		hash = hashCombine(hash, in.Sxhash(x, n), n)
	}
	return hash
}

func (lispArrayHooks) Equal(in *Interp, a, b ast.Ref) bool {
	x, y := in.h.Cell(a).Payload.([]ast.Ref), in.h.Cell(b).Payload.([]ast.Ref)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if !in.Equal(x[i], y[i]) {
			return false
		}
	}
	return true
}

func (lispArrayHooks) FastPrint(fw *FastWriter, r ast.Ref) error {
	data := fw.in.h.Cell(r).Payload.([]ast.Ref)
	fw.writeByte(byte(ast.TLispArray))
	fw.writeLong(int64(len(data)))
	for _, x := range data {
		if err := fw.print(x); err != nil {
			return err
		}
	}
	return fw.err
}

// FastRead binds the array to a pending store id before reading the
// elements, so an element may refer back to the array
func (lispArrayHooks) FastRead(fr *FastReader, code byte) (ast.Ref, error) {
	n, err := fr.readDim()
	if err != nil {
		return ast.Nil, err
	}
	data := make([]ast.Ref, n)
	arr := fr.in.NewCell(ast.TLispArray, data)
	release := fr.in.h.Protect(&arr)
	defer release()
	fr.bind(arr)
	for i := range data {
		x, err := fr.read()
		if err != nil {
			return ast.Nil, err
		}
		data[i] = x
	}
	return arr, nil
}

// NewArray allocates an array of kind double, long, string, byte or lisp
// (the default) with n zero elements
func (in *Interp) NewArray(kind ast.Ref, n int) (ast.Ref, error) {
	switch kind {
	case in.syms[symDouble]:
		return in.NewCell(ast.TDoubleArray, make([]float64, n)), nil
	case in.syms[symLong]:
		return in.NewCell(ast.TLongArray, make([]int64, n)), nil
	case in.syms[symStringKind]:
		return in.NewCell(ast.TString, bytes.Repeat([]byte{' '}, n)), nil
	case in.syms[symByte]:
		return in.NewCell(ast.TByteArray, make([]byte, n)), nil
	case in.syms[symLisp], ast.Nil:
		return in.NewCell(ast.TLispArray, make([]ast.Ref, n)), nil
	}
	return ast.Nil, in.raise(ErrWrongType, kind, "bad type of array")
}

func (in *Interp) initArraySubrs() {
	in.DefineSubr2("aref", in.aref)
	in.DefineSubr3("aset", in.aset)
	in.defineOpt("cons-array", 1, in.consArray)
	in.defineOpt("sxhash", 1, in.sxhash)
	in.DefineSubr2("equal?", func(a, b ast.Ref) (ast.Ref, error) { return in.Truth(in.Equal(a, b)), nil })
	in.DefineSubr2("href", in.href)
	in.DefineSubr3("hset", in.hset)
	in.DefineSubr1("typeof", in.typeOf)
	in.DefineSubr1("array->hexstr", in.hexstr)
	in.DefineSubr1("hexstr->bytes", in.hexstrToBytes)
	in.DefineLsubr("bytes-append", in.bytesAppend)
}

func (in *Interp) aref(a, i ast.Ref) (ast.Ref, error) {
	h := in.h
	if h.Tag(i) != ast.TFlonum {
		return ast.Nil, in.raise(ErrWrongType, i, "bad index to aref")
	}
	k := int64(h.Cell(i).Num)
	if k < 0 {
		return ast.Nil, in.raise(ErrWrongType, i, "negative index to aref")
	}
	switch h.Tag(a) {
	case ast.TString, ast.TByteArray:
		data := h.Cell(a).Payload.([]byte)
		if k >= int64(len(data)) {
			return ast.Nil, in.raise(ErrWrongType, i, "index too large")
		}
		return in.Number(float64(data[k])), nil
	case ast.TDoubleArray:
		data := h.Cell(a).Payload.([]float64)
		if k >= int64(len(data)) {
			return ast.Nil, in.raise(ErrWrongType, i, "index too large")
		}
		return in.Number(data[k]), nil
	case ast.TLongArray:
		data := h.Cell(a).Payload.([]int64)
		if k >= int64(len(data)) {
			return ast.Nil, in.raise(ErrWrongType, i, "index too large")
		}
		return in.Number(float64(data[k])), nil
	case ast.TLispArray:
		data := h.Cell(a).Payload.([]ast.Ref)
		if k >= int64(len(data)) {
			return ast.Nil, in.raise(ErrWrongType, i, "index too large")
		}
		return data[k], nil
	}
	return ast.Nil, in.raise(ErrWrongType, a, "invalid argument to aref")
}

func (in *Interp) aset(a, i, v ast.Ref) (ast.Ref, error) {
	h := in.h
	if h.Tag(i) != ast.TFlonum {
		return ast.Nil, in.raise(ErrWrongType, i, "bad index to aset")
	}
	k := int64(h.Cell(i).Num)
	if k < 0 {
		return ast.Nil, in.raise(ErrWrongType, i, "negative index to aset")
	}
	tag := h.Tag(a)
	switch tag {
	case ast.TString, ast.TByteArray, ast.TDoubleArray, ast.TLongArray:
		if h.Tag(v) != ast.TFlonum {
			return ast.Nil, in.raise(ErrWrongType, v, "bad value to store in array")
		}
	case ast.TLispArray:
	default:
		return ast.Nil, in.raise(ErrWrongType, a, "invalid argument to aset")
	}
	var n int
	switch data := h.Cell(a).Payload.(type) {
	case []byte:
		n = len(data)
	case []float64:
		n = len(data)
	case []int64:
		n = len(data)
	case []ast.Ref:
		n = len(data)
	}
	if k >= int64(n) {
		return ast.Nil, in.raise(ErrWrongType, i, "index to aset too large")
	}
	switch data := h.Cell(a).Payload.(type) {
	case []byte:
		data[k] = byte(int64(h.Cell(v).Num))
	case []float64:
		data[k] = h.Cell(v).Num
	case []int64:
		data[k] = int64(h.Cell(v).Num)
	case []ast.Ref:
		data[k] = v
	}
	return v, nil
}

func (in *Interp) consArray(dim, kind ast.Ref) (ast.Ref, error) {
	if in.h.Tag(dim) != ast.TFlonum || in.Num(dim) < 0 {
		return ast.Nil, in.raise(ErrWrongType, dim, "bad dimension to cons-array")
	}
	return in.NewArray(kind, int(in.Num(dim)))
}

func (in *Interp) sxhash(obj, n ast.Ref) (ast.Ref, error) {
	size := uint64(10000)
	if n != ast.Nil {
		v, err := in.getLong(n)
		if err != nil {
			return ast.Nil, err
		}
		if v <= 0 {
			return ast.Nil, in.raise(ErrWrongType, n, "bad hash table size")
		}
		size = uint64(v)
	}
	return in.Number(float64(in.Sxhash(obj, size))), nil
}

// bucket returns the lisp array of a hash table and the index for key
func (in *Interp) bucket(table, key ast.Ref) ([]ast.Ref, uint64, error) {
	if in.h.Tag(table) != ast.TLispArray {
		return nil, 0, in.raise(ErrWrongType, table, "not a hash table")
	}
	data := in.h.Cell(table).Payload.([]ast.Ref)
	if len(data) == 0 {
		return nil, 0, in.raise(ErrWrongType, table, "not a hash table")
	}
	return data, in.Sxhash(key, uint64(len(data))), nil
}

func (in *Interp) href(table, key ast.Ref) (ast.Ref, error) {
	data, idx, err := in.bucket(table, key)
	if err != nil {
		return ast.Nil, err
	}
	cell, err := in.assoc(key, data[idx])
	if err != nil {
		return ast.Nil, err
	}
	return in.Cdr(cell), nil
}

func (in *Interp) hset(table, key, value ast.Ref) (ast.Ref, error) {
	data, idx, err := in.bucket(table, key)
	if err != nil {
		return ast.Nil, err
	}
	cell, err := in.assoc(key, data[idx])
	if err != nil {
		return ast.Nil, err
	}
	if cell != ast.Nil {
		in.setCdr(cell, value)
		return value, nil
	}
	release := in.h.Protect(&table, &value)
	defer release()
	entry := in.h.Cons(key, value)
	l := in.h.Cons(entry, data[idx])
	// the slice is shared with the cell, which may have moved
	in.h.Cell(table).Payload.([]ast.Ref)[idx] = l
	return value, nil
}

func (in *Interp) typeOf(x ast.Ref) (ast.Ref, error) {
	name := in.typeName(x)
	if name == "" {
		return in.Number(float64(in.h.Tag(x))), nil
	}
	return in.Intern(name), nil
}

func (in *Interp) hexstr(a ast.Ref) (ast.Ref, error) {
	data, err := in.getBytes(a)
	if err != nil {
		return ast.Nil, err
	}
	return in.String(hex.EncodeToString(data)), nil
}

func xdigitValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// hexstrToBytes decodes pairs of hex digits; non-digits count as zero
func (in *Interp) hexstrToBytes(a ast.Ref) (ast.Ref, error) {
	s, err := in.getString(a)
	if err != nil {
		return ast.Nil, err
	}
	out := make([]byte, len(s)/2)
	for j := range out {
		out[j] = xdigitValue(s[2*j])*16 + xdigitValue(s[2*j+1])
	}
	return in.NewCell(ast.TByteArray, out), nil
}

func (in *Interp) bytesAppend(args ast.Ref) (ast.Ref, error) {
	var out []byte
	for l := args; l != ast.Nil; l = in.Cdr(l) {
		data, err := in.getBytes(in.Car(l))
		if err != nil {
			return ast.Nil, err
		}
		out = append(out, data...)
	}
	if out == nil {
		out = []byte{}
	}
	return in.NewCell(ast.TByteArray, out), nil
}

// arrayLen returns the element count of strings and arrays
func (in *Interp) arrayLen(x ast.Ref) (int, bool) {
	if x == ast.Nil {
		return 0, false
	}
	switch data := in.h.Cell(x).Payload.(type) {
	case []byte:
		if in.h.Tag(x) == ast.TString {
			if i := bytes.IndexByte(data, 0); i >= 0 {
				return i, true
			}
		}
		return len(data), true
	case []float64:
		return len(data), true
	case []int64:
		return len(data), true
	case []ast.Ref:
		return len(data), true
	}
	return 0, false
}
