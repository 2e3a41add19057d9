package eval

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"siod_go/pkg/ast"
)

// Numbers are IEEE doubles. The variadic arithmetic subrs fold pairwise,
// and receive () for a missing second operand.

func (in *Interp) initNumberSubrs() {
	in.DefineSubr2n("+", in.plus)
	in.DefineSubr2n("-", in.difference)
	in.DefineSubr2n("*", in.times)
	in.DefineSubr2n("/", in.quotient)
	in.DefineSubr2n("min", in.min)
	in.DefineSubr2n("max", in.max)
	in.DefineSubr2(">", in.compare("greaterp", func(a, b float64) bool { return a > b }))
	in.DefineSubr2("<", in.compare("lessp", func(a, b float64) bool { return a < b }))
	in.DefineSubr2(">=", in.compare("greaterEp", func(a, b float64) bool { return a >= b }))
	in.DefineSubr2("<=", in.compare("lessEp", func(a, b float64) bool { return a <= b }))
	in.DefineSubr2("eqv?", func(a, b ast.Ref) (ast.Ref, error) { return in.Truth(in.Eqv(a, b)), nil })
	in.DefineSubr2("=", func(a, b ast.Ref) (ast.Ref, error) { return in.Truth(in.Eqv(a, b)), nil })
	in.DefineSubr1("number?", func(x ast.Ref) (ast.Ref, error) { return in.Truth(in.h.Tag(x) == ast.TFlonum), nil })

	in.DefineSubr1("abs", in.abs)
	in.DefineSubr2("pow", in.binary("pow", math.Pow))
	in.DefineSubr2("fmod", in.binary("fmod", math.Mod))
	in.DefineSubr2("atan2", in.binary("atan2", math.Atan2))
	for name, fn := range map[string]func(float64) float64{
		"sqrt":  math.Sqrt,
		"trunc": math.Trunc,
		"exp":   math.Exp,
		"log":   math.Log,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"asin":  math.Asin,
		"acos":  math.Acos,
		"atan":  math.Atan,
	} {
		in.DefineSubr1(name, in.unary(name, fn))
	}

	in.DefineSubr2("bit-and", in.bitwise(func(a, b int64) int64 { return a & b }))
	in.DefineSubr2("bit-or", in.bitwise(func(a, b int64) int64 { return a | b }))
	in.DefineSubr2("bit-xor", in.bitwise(func(a, b int64) int64 { return a ^ b }))
	in.DefineSubr1("bit-not", in.bitNot)
	in.DefineSubr2("ash", in.ash)

	in.defineOpt("rand", 0, in.random)
	in.DefineSubr1("srand", in.srand)
	in.defineOpt("number->string", 1, in.numberToString)
	in.defineOpt("string->number", 1, in.stringToNumber)

	in.SetGlobal("*pi*", in.Number(math.Pi))
}

func (in *Interp) operands(name string, x, y ast.Ref) (float64, float64, error) {
	if in.h.Tag(x) != ast.TFlonum {
		return 0, 0, in.raise(ErrWrongType, x, "wta(1st) to %s", name)
	}
	if in.h.Tag(y) != ast.TFlonum {
		return 0, 0, in.raise(ErrWrongType, y, "wta(2nd) to %s", name)
	}
	return in.Num(x), in.Num(y), nil
}

func (in *Interp) plus(x, y ast.Ref) (ast.Ref, error) {
	if y == ast.Nil {
		if x == ast.Nil {
			return in.Number(0), nil
		}
		return x, nil
	}
	a, b, err := in.operands("plus", x, y)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(a + b), nil
}

func (in *Interp) times(x, y ast.Ref) (ast.Ref, error) {
	if y == ast.Nil {
		if x == ast.Nil {
			return in.Number(1), nil
		}
		return x, nil
	}
	a, b, err := in.operands("times", x, y)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(a * b), nil
}

func (in *Interp) difference(x, y ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TFlonum {
		return ast.Nil, in.raise(ErrWrongType, x, "wta(1st) to difference")
	}
	if y == ast.Nil {
		return in.Number(-in.Num(x)), nil
	}
	a, b, err := in.operands("difference", x, y)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(a - b), nil
}

func (in *Interp) quotient(x, y ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TFlonum {
		return ast.Nil, in.raise(ErrWrongType, x, "wta(1st) to quotient")
	}
	if y == ast.Nil {
		return in.Number(1 / in.Num(x)), nil
	}
	a, b, err := in.operands("quotient", x, y)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(a / b), nil
}

func (in *Interp) min(x, y ast.Ref) (ast.Ref, error) {
	if y == ast.Nil {
		return x, nil
	}
	a, b, err := in.operands("min", x, y)
	if err != nil {
		return ast.Nil, err
	}
	if a < b {
		return x, nil
	}
	return y, nil
}

func (in *Interp) max(x, y ast.Ref) (ast.Ref, error) {
	if y == ast.Nil {
		return x, nil
	}
	a, b, err := in.operands("max", x, y)
	if err != nil {
		return ast.Nil, err
	}
	if a > b {
		return x, nil
	}
	return y, nil
}

func (in *Interp) compare(name string, op func(a, b float64) bool) ast.Subr2Fn {
	return func(x, y ast.Ref) (ast.Ref, error) {
		a, b, err := in.operands(name, x, y)
		if err != nil {
			return ast.Nil, err
		}
		return in.Truth(op(a, b)), nil
	}
}

func (in *Interp) binary(name string, op func(a, b float64) float64) ast.Subr2Fn {
	return func(x, y ast.Ref) (ast.Ref, error) {
		a, b, err := in.operands(name, x, y)
		if err != nil {
			return ast.Nil, err
		}
		return in.Number(op(a, b)), nil
	}
}

func (in *Interp) unary(name string, op func(float64) float64) ast.Subr1Fn {
	return func(x ast.Ref) (ast.Ref, error) {
		if in.h.Tag(x) != ast.TFlonum {
			return ast.Nil, in.raise(ErrWrongType, x, "wta to %s", name)
		}
		return in.Number(op(in.Num(x))), nil
	}
}

func (in *Interp) abs(x ast.Ref) (ast.Ref, error) {
	v, err := in.getNumber(x)
	if err != nil {
		return ast.Nil, err
	}
	if v < 0 {
		return in.Number(-v), nil
	}
	return x, nil
}

func (in *Interp) bitwise(op func(a, b int64) int64) ast.Subr2Fn {
	return func(x, y ast.Ref) (ast.Ref, error) {
		a, err := in.getLong(x)
		if err != nil {
			return ast.Nil, err
		}
		b, err := in.getLong(y)
		if err != nil {
			return ast.Nil, err
		}
		return in.Number(float64(op(a, b))), nil
	}
}

func (in *Interp) bitNot(x ast.Ref) (ast.Ref, error) {
	a, err := in.getLong(x)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(float64(^a)), nil
}

// ash shifts left for positive counts and arithmetically right otherwise
func (in *Interp) ash(value, n ast.Ref) (ast.Ref, error) {
	m, err := in.getLong(value)
	if err != nil {
		return ast.Nil, err
	}
	k, err := in.getLong(n)
	if err != nil {
		return ast.Nil, err
	}
	switch {
	case k >= 64:
		m = 0
	case k > 0:
		m <<= uint(k)
	case k <= -64:
		m >>= 63
	default:
		m >>= uint(-k)
	}
	return in.Number(float64(m)), nil
}

func (in *Interp) random(m ast.Ref) (ast.Ref, error) {
	r := int64(in.rng.Int31())
	if m == ast.Nil {
		return in.Number(float64(r)), nil
	}
	n, err := in.getLong(m)
	if err != nil {
		return ast.Nil, err
	}
	if n == 0 {
		return ast.Nil, in.raise(ErrWrongType, m, "rand modulus is zero")
	}
	return in.Number(float64(r % n)), nil
}

func (in *Interp) srand(s ast.Ref) (ast.Ref, error) {
	n, err := in.getLong(s)
	if err != nil {
		return ast.Nil, err
	}
	in.rng.Seed(n)
	return ast.Nil, nil
}

// numberToString formats x. base is () for %g, e or f for the C
// conversions of those names, or 8, 10 or 16 for an integer.
func (in *Interp) numberToString(x, base, width, prec ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TFlonum {
		return ast.Nil, in.raise(ErrWrongType, x, "wta")
	}
	y := in.Num(x)
	w, p := int64(-1), int64(-1)
	var err error
	if width != ast.Nil {
		if w, err = in.getLong(width); err != nil {
			return ast.Nil, err
		}
		if w > 100 {
			return ast.Nil, in.raise(ErrWrongType, width, "width too long")
		}
	}
	if prec != ast.Nil {
		if p, err = in.getLong(prec); err != nil {
			return ast.Nil, err
		}
		if p > 100 {
			return ast.Nil, in.raise(ErrWrongType, prec, "precision too large")
		}
	}

	release := in.h.Protect(&base)
	defer release()
	var verb byte
	switch {
	case base == ast.Nil:
		verb = 'g'
	case base == in.Intern("e"):
		verb = 'e'
	case base == in.Intern("f"):
		verb = 'f'
	}
	if verb != 0 {
		if p < 0 {
			p = 6
		}
		if w < 0 {
			w = 0
		}
		return in.String(fmt.Sprintf("%*.*"+string(verb), w, p, y)), nil
	}

	b, err := in.getLong(base)
	if err != nil {
		return ast.Nil, err
	}
	var format string
	switch b {
	case 10:
		format = "%0*d"
	case 8:
		format = "%0*o"
	case 16:
		format = "%0*X"
	default:
		return ast.Nil, in.raise(ErrWrongType, base, "number base not handled")
	}
	if w < 0 {
		w = 0
	}
	return in.String(fmt.Sprintf(format, w, int64(y))), nil
}

// stringToNumber parses the leading number of a string; with a base the
// text is read as an integer in that base
func (in *Interp) stringToNumber(x, base ast.Ref) (ast.Ref, error) {
	s, err := in.getString(x)
	if err != nil {
		return ast.Nil, err
	}
	if base == ast.Nil {
		return in.Number(atof(s)), nil
	}
	b, err := in.getLong(base)
	if err != nil {
		return ast.Nil, err
	}
	switch {
	case b == 8 || b == 10 || b == 16:
		return in.Number(float64(atol(s, int(b)))), nil
	case b >= 1 && b <= 16:
		result := 0.0
		for _, c := range []byte(s) {
			if d := xdigitValue(c); isXdigit(c) {
				result = result*float64(b) + float64(d)
			}
		}
		return in.Number(result), nil
	}
	return ast.Nil, in.raise(ErrWrongType, base, "number base not handled")
}

func isXdigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// atof converts the longest numeric prefix of s after leading blanks,
// 0 when there is none
func atof(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && s[j] >= '0' && s[j] <= '9' {
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			i = j
		}
	}
	// out of range values come back as +-Inf or 0
	v, _ := strconv.ParseFloat(s[:i], 64)
	return v
}

// atol converts the leading integer of s in base, 0 when there is none
func atol(s string, base int) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if base == 16 && i+1 < len(s) && s[i] == '0' && (s[i+1] == 'x' || s[i+1] == 'X') {
		s = s[:i] + s[i+2:]
	}
	j := i
	for j < len(s) && isXdigit(s[j]) && int(xdigitValue(s[j])) < base {
		j++
	}
	if j == i {
		return 0
	}
	v, _ := strconv.ParseInt(s[:j], base, 64)
	return v
}
