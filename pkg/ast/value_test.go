package ast

import "testing"

// ============ Tag Tests ============

func TestTagNumbers(t *testing.T) {
	// fast-save opcodes depend on these
	tests := []struct {
		tag  Tag
		want int
	}{
		{TNil, 0},
		{TCons, 1},
		{TFlonum, 2},
		{TSymbol, 3},
		{TClosure, 11},
		{TString, 13},
		{TDoubleArray, 14},
		{TLongArray, 15},
		{TLispArray, 16},
		{TFile, 17},
		{TByteArray, 18},
		{TSubr2n, 21},
	}
	for _, tt := range tests {
		if int(tt.tag) != tt.want {
			t.Errorf("%s = %d, want %d", TagName(tt.tag), tt.tag, tt.want)
		}
	}
}

func TestTagClasses(t *testing.T) {
	tests := []struct {
		tag     Tag
		subr    bool
		builtin bool
		arity   int
		kind    string
	}{
		{TCons, false, true, -1, "???"},
		{TSymbol, false, true, -1, "???"},
		{TString, false, false, -1, "???"},
		{TSubr0, true, true, 0, "subr_0"},
		{TSubr3, true, true, 3, "subr_3"},
		{TSubr5, true, true, 5, "subr_5"},
		{TSubr2n, true, true, -1, "subr_2n"},
		{TLsubr, true, true, -1, "lsubr"},
		{TMsubr, true, true, -1, "msubr"},
		{TUserMin, false, false, -1, "???"},
	}
	for _, tt := range tests {
		name := TagName(tt.tag)
		if IsSubr(tt.tag) != tt.subr {
			t.Errorf("IsSubr(%s) = %v", name, !tt.subr)
		}
		if IsBuiltin(tt.tag) != tt.builtin {
			t.Errorf("IsBuiltin(%s) = %v", name, !tt.builtin)
		}
		if Arity(tt.tag) != tt.arity {
			t.Errorf("Arity(%s) = %d, want %d", name, Arity(tt.tag), tt.arity)
		}
		if SubrKindName(tt.tag) != tt.kind {
			t.Errorf("SubrKindName(%s) = %s, want %s", name, SubrKindName(tt.tag), tt.kind)
		}
	}
}

func TestTagName(t *testing.T) {
	if got := TagName(TUserMin); got != "UNKNOWN(50)" {
		t.Errorf("TagName(TUserMin) = %s", got)
	}
	if got := TagName(TFsubr); got != "SUBR" {
		t.Errorf("TagName(TFsubr) = %s", got)
	}
}

func TestCellReset(t *testing.T) {
	c := Cell{Tag: TCons, Car: 4, Cdr: 5, Num: 1.5, Name: "x", Payload: []byte("p")}
	c.Reset(TFlonum)
	if c.Tag != TFlonum || c.Car != Nil || c.Cdr != Nil || c.Num != 0 || c.Name != "" || c.Payload != nil {
		t.Errorf("Reset left %+v", c)
	}
}
