package eval

import (
	"bytes"
	"encoding/base64"
	"strings"

	"siod_go/pkg/ast"
)

// Strings are byte slices with a fixed dimension. Their text ends at the
// first NUL, as strcpy and strcat leave it.

const trimSpace = " \t\r\n"

func (in *Interp) initStringSubrs() {
	in.DefineSubr1("string?", func(x ast.Ref) (ast.Ref, error) { return in.Truth(in.h.Tag(x) == ast.TString), nil })
	in.DefineLsubr("string-append", in.stringAppend)
	in.DefineSubr1("string-length", in.stringLength)
	in.DefineSubr1("string-dimension", in.stringDim)
	in.defineOpt("substring", 2, in.substring)
	in.DefineSubr2("string-search", in.stringSearch)
	in.DefineSubr1("string-trim", in.stringMap(func(s string) string { return strings.Trim(s, trimSpace) }))
	in.DefineSubr1("string-trim-left", in.stringMap(func(s string) string { return strings.TrimLeft(s, trimSpace) }))
	in.DefineSubr1("string-trim-right", in.stringMap(func(s string) string { return strings.TrimRight(s, trimSpace) }))
	in.DefineSubr1("string-upcase", in.stringMap(asciiUpper))
	in.DefineSubr1("string-downcase", in.stringMap(asciiLower))
	in.DefineSubr2("strcmp", in.strcmp)
	in.DefineSubr2("string-lessp", in.stringLessp)
	in.DefineSubr2("strcat", in.strcat)
	in.DefineSubr2("strcpy", in.strcpy)
	in.DefineSubr2("strspn", in.strspn(false))
	in.DefineSubr2("strcspn", in.strspn(true))
	in.defineOpt("substring-equal?", 2, in.substringEqual)
	in.DefineSubr2("strbreakup", in.strbreakup)
	in.DefineSubr2("unbreakupstr", in.unbreakupstr)
	in.DefineSubr1("read-from-string", in.readFromString)
	in.defineOpt("print-to-string", 1, in.printToString)
	in.DefineSubr3("swrite", in.swrite)
	in.DefineSubr1("base64encode", in.base64Encode)
	in.DefineSubr1("base64decode", in.base64Decode)
}

// cString returns the text of a string argument up to its first NUL
func (in *Interp) cString(x ast.Ref) (string, error) {
	s, err := in.getString(x)
	if err != nil {
		return "", err
	}
	if in.h.Tag(x) == ast.TString {
		if i := strings.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
	}
	return s, nil
}

// stringStorage returns the mutable storage of a string argument
func (in *Interp) stringStorage(x ast.Ref) ([]byte, error) {
	if in.h.Tag(x) != ast.TString {
		return nil, in.raise(ErrWrongType, x, "not a string")
	}
	return in.h.Cell(x).Payload.([]byte), nil
}

func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func (in *Interp) stringMap(fn func(string) string) ast.Subr1Fn {
	return func(x ast.Ref) (ast.Ref, error) {
		s, err := in.cString(x)
		if err != nil {
			return ast.Nil, err
		}
		return in.String(fn(s)), nil
	}
}

func (in *Interp) stringAppend(args ast.Ref) (ast.Ref, error) {
	var sb strings.Builder
	for l := args; l != ast.Nil; l = in.Cdr(l) {
		s, err := in.cString(in.Car(l))
		if err != nil {
			return ast.Nil, err
		}
		sb.WriteString(s)
	}
	return in.String(sb.String()), nil
}

func (in *Interp) stringLength(x ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TString {
		return ast.Nil, in.raise(ErrWrongType, x, "not a string")
	}
	s, _ := in.cString(x)
	return in.Number(float64(len(s))), nil
}

func (in *Interp) stringDim(x ast.Ref) (ast.Ref, error) {
	data, err := in.stringStorage(x)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(float64(len(data))), nil
}

func (in *Interp) substring(str, start, end ast.Ref) (ast.Ref, error) {
	data, err := in.getBytes(str)
	if err != nil {
		return ast.Nil, err
	}
	n := int64(len(data))
	s, err := in.getLong(start)
	if err != nil {
		return ast.Nil, err
	}
	e := n
	if end != ast.Nil {
		if e, err = in.getLong(end); err != nil {
			return ast.Nil, err
		}
	}
	if s < 0 || s > e {
		return ast.Nil, in.raise(ErrWrongType, start, "bad start index")
	}
	if e < 0 || e > n {
		return ast.Nil, in.raise(ErrWrongType, end, "bad end index")
	}
	return in.Bytes(data[s:e]), nil
}

// stringSearch returns the index of token in str, or ()
func (in *Interp) stringSearch(token, str ast.Ref) (ast.Ref, error) {
	s, err := in.cString(str)
	if err != nil {
		return ast.Nil, err
	}
	t, err := in.cString(token)
	if err != nil {
		return ast.Nil, err
	}
	if i := strings.Index(s, t); i >= 0 {
		return in.Number(float64(i)), nil
	}
	return ast.Nil, nil
}

func (in *Interp) strings2(a, b ast.Ref) (string, string, error) {
	s1, err := in.cString(a)
	if err != nil {
		return "", "", err
	}
	s2, err := in.cString(b)
	return s1, s2, err
}

func (in *Interp) strcmp(a, b ast.Ref) (ast.Ref, error) {
	s1, s2, err := in.strings2(a, b)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(float64(strings.Compare(s1, s2))), nil
}

func (in *Interp) stringLessp(a, b ast.Ref) (ast.Ref, error) {
	s1, s2, err := in.strings2(a, b)
	if err != nil {
		return ast.Nil, err
	}
	return in.Truth(s1 < s2), nil
}

// strcpy copies src into the storage of dest
func (in *Interp) strcpy(dest, src ast.Ref) (ast.Ref, error) {
	d, err := in.stringStorage(dest)
	if err != nil {
		return ast.Nil, err
	}
	s, err := in.cString(src)
	if err != nil {
		return ast.Nil, err
	}
	if len(s) > len(d) {
		return ast.Nil, in.raise(ErrWrongType, src, "string too long")
	}
	copy(d, s)
	if len(s) < len(d) {
		d[len(s)] = 0
	}
	return ast.Nil, nil
}

// strcat appends src to the text held in dest
func (in *Interp) strcat(dest, src ast.Ref) (ast.Ref, error) {
	d, err := in.stringStorage(dest)
	if err != nil {
		return ast.Nil, err
	}
	s, err := in.cString(src)
	if err != nil {
		return ast.Nil, err
	}
	dlen := bytes.IndexByte(d, 0)
	if dlen < 0 {
		dlen = len(d)
	}
	if dlen+len(s) > len(d) {
		return ast.Nil, in.raise(ErrWrongType, src, "string too long")
	}
	copy(d[dlen:], s)
	if dlen+len(s) < len(d) {
		d[dlen+len(s)] = 0
	}
	return ast.Nil, nil
}

// strspn counts the leading bytes of str1 that are in str2, or with
// complement that are not
func (in *Interp) strspn(complement bool) ast.Subr2Fn {
	return func(a, b ast.Ref) (ast.Ref, error) {
		s, set, err := in.strings2(a, b)
		if err != nil {
			return ast.Nil, err
		}
		n := 0
		for n < len(s) && (strings.IndexByte(set, s[n]) >= 0) != complement {
			n++
		}
		return in.Number(float64(n)), nil
	}
}

// substringEqual reports whether str1 equals str2[start:end]
func (in *Interp) substringEqual(str1, str2, start, end ast.Ref) (ast.Ref, error) {
	s1, err := in.getBytes(str1)
	if err != nil {
		return ast.Nil, err
	}
	s2, err := in.getBytes(str2)
	if err != nil {
		return ast.Nil, err
	}
	n := int64(len(s2))
	s, e := int64(0), n
	if start != ast.Nil {
		if s, err = in.getLong(start); err != nil {
			return ast.Nil, err
		}
	}
	if end != ast.Nil {
		if e, err = in.getLong(end); err != nil {
			return ast.Nil, err
		}
	}
	if s < 0 || s > e || e < 0 || e > n || e-s != int64(len(s1)) {
		return ast.Nil, nil
	}
	return in.Truth(bytes.Equal(s1, s2[s:e])), nil
}

// strbreakup splits str at every occurrence of marker
func (in *Interp) strbreakup(str, marker ast.Ref) (ast.Ref, error) {
	s, m, err := in.strings2(str, marker)
	if err != nil {
		return ast.Nil, err
	}
	if m == "" {
		return in.String(s), nil
	}
	if s == "" {
		return ast.Nil, nil
	}
	b := in.newListBuilder()
	defer b.release()
	for _, part := range strings.Split(s, m) {
		b.add(in.String(part))
	}
	return b.head, nil
}

// unbreakupstr joins the strings of elems with marker between them
func (in *Interp) unbreakupstr(elems, marker ast.Ref) (ast.Ref, error) {
	m, err := in.cString(marker)
	if err != nil {
		return ast.Nil, err
	}
	var parts []string
	for l := elems; l != ast.Nil; l = in.Cdr(l) {
		s, err := in.cString(in.Car(l))
		if err != nil {
			return ast.Nil, err
		}
		parts = append(parts, s)
	}
	return in.String(strings.Join(parts, m)), nil
}

func (in *Interp) readFromString(x ast.Ref) (ast.Ref, error) {
	s, err := in.cString(x)
	if err != nil {
		return ast.Nil, err
	}
	return in.ReadString(s)
}

// printToString prints exp into the storage of str, after its current
// text when nostart is given. Without str a new string is returned.
func (in *Interp) printToString(exp, str, nostart ast.Ref) (ast.Ref, error) {
	p := in.NewPrinter(false)
	if err := p.Print(exp); err != nil {
		return ast.Nil, err
	}
	if str == ast.Nil {
		return in.String(p.String()), nil
	}
	d, err := in.stringStorage(str)
	if err != nil {
		return ast.Nil, err
	}
	start := 0
	if nostart != ast.Nil {
		if start = bytes.IndexByte(d, 0); start < 0 {
			start = len(d)
		}
	}
	text := p.String()
	if start+len(text) > len(d) {
		return ast.Nil, in.raise(ErrWrongType, str, "print to string overflow")
	}
	copy(d[start:], text)
	if start+len(text) < len(d) {
		d[start+len(text)] = 0
	}
	return str, nil
}

// swrite writes a template: symbols are replaced by their entry in the
// hash table, a value list being consumed one element per use; an array
// #(n x...) writes x... n times, n itself looked up in the table.
func (in *Interp) swrite(stream, table, data ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(stream)
	if err != nil {
		return ast.Nil, err
	}
	release := in.h.Protect(&stream, &table, &data)
	defer release()

	p := in.NewPrinter(true)
	if err := in.swriteTo(p, table, data); err != nil {
		return ast.Nil, err
	}
	_, err = p.WriteTo(w)
	return ast.Nil, err
}

func (in *Interp) swriteTo(p *Printer, table, data ast.Ref) error {
	release := in.h.Protect(&table, &data)
	defer release()
	switch in.h.Tag(data) {
	case ast.TSymbol:
		value, err := in.href(table, data)
		if err != nil {
			return err
		}
		if in.consp(value) {
			if rest := in.h.Cell(value).Cdr; rest != ast.Nil {
				if _, err := in.hset(table, data, rest); err != nil {
					return err
				}
			}
			value = in.h.Cell(value).Car
		}
		return in.swrite1(p, value)
	case ast.TLispArray:
		items := in.h.Cell(data).Payload.([]ast.Ref)
		if len(items) < 1 {
			return in.raise(ErrWrongType, data, "no object repeat count")
		}
		key := items[0]
		value, err := in.href(table, key)
		if err != nil {
			return err
		}
		if value == ast.Nil {
			value = key
		} else if in.consp(value) {
			if rest := in.h.Cell(value).Cdr; rest != ast.Nil {
				release := in.h.Protect(&value)
				_, err := in.hset(table, key, rest)
				release()
				if err != nil {
					return err
				}
			}
			value = in.h.Cell(value).Car
		}
		m, err := in.getLong(value)
		if err != nil {
			return err
		}
		for k := int64(0); k < m; k++ {
			// items shares the array storage, which survives relocation
			for j := 1; j < len(items); j++ {
				if err := in.swriteTo(p, table, items[j]); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return in.swrite1(p, data)
}

func (in *Interp) swrite1(p *Printer, x ast.Ref) error {
	switch in.h.Tag(x) {
	case ast.TSymbol, ast.TString:
		s, _ := in.cString(x)
		p.WriteString(s)
		return nil
	}
	raw := p.raw
	p.raw = false
	defer func() { p.raw = raw }()
	return p.Print(x)
}

func (in *Interp) base64Encode(x ast.Ref) (ast.Ref, error) {
	data, err := in.getBytes(x)
	if err != nil {
		return ast.Nil, err
	}
	return in.String(base64.StdEncoding.EncodeToString(data)), nil
}

func (in *Interp) base64Decode(x ast.Ref) (ast.Ref, error) {
	s, err := in.cString(x)
	if err != nil {
		return ast.Nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ast.Nil, in.raise(ErrWrongType, x, "illegal base64 data")
	}
	return in.Bytes(data), nil
}
