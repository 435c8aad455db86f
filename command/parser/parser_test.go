package parser

import "testing"

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		out  uint32
		fail bool
	}{
		{"0x100", 0x100, false},
		{"0X2000", 0x2000, false},
		{"42", 42, false},
		{"0xzz", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := parseNumber(c.in)
		if c.fail {
			if err == nil {
				t.Errorf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.out {
			t.Errorf("%q got %d err %v", c.in, got, err)
		}
	}
}

func TestCompleteCmd(t *testing.T) {
	if got := CompleteCmd("st"); len(got) != 2 {
		t.Errorf("st completions got %v", got)
	}
	if got := CompleteCmd("q"); len(got) != 1 || got[0] != "quit" {
		t.Errorf("q completions got %v", got)
	}
	if got := CompleteCmd("zz"); got != nil {
		t.Errorf("zz completions got %v", got)
	}
}

func TestRegIndex(t *testing.T) {
	if i, ok := regIndex("SP"); !ok || i != 13 {
		t.Errorf("SP got %d ok=%v", i, ok)
	}
	if i, ok := regIndex("r12"); !ok || i != 12 {
		t.Errorf("r12 got %d ok=%v", i, ok)
	}
	if _, ok := regIndex("r16"); ok {
		t.Error("r16 should not resolve")
	}
}
