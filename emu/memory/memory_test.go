package memory

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadWrite(t *testing.T) {
	m := New(0x1000)
	if err := m.Write(0x100, []byte{0xbe, 0xba, 0xfe, 0xca}); err != nil {
		t.Fatal(err)
	}
	got, err := m.Read(0x100, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xbe, 0xba, 0xfe, 0xca}) {
		t.Errorf("got % x", got)
	}
	if w, _ := m.GetWord(0x100); w != 0xcafebabe {
		t.Errorf("word got %08x expected cafebabe", w)
	}
}

func TestUnalignedAccess(t *testing.T) {
	// Memory itself does not enforce alignment.
	m := New(0x1000)
	_ = m.PutWord(0x10, 0x11223344)
	got, err := m.Read(0x11, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x33, 0x22}) {
		t.Errorf("got % x expected 33 22", got)
	}
}

func TestRangeCheck(t *testing.T) {
	m := New(0x100)
	if _, err := m.Read(0xfe, 4); !errors.Is(err, ErrRange) {
		t.Errorf("expected range error, got %v", err)
	}
	if err := m.Write(0x100, []byte{1}); !errors.Is(err, ErrRange) {
		t.Errorf("expected range error, got %v", err)
	}
	// Last valid byte.
	if err := m.Write(0xff, []byte{1}); err != nil {
		t.Errorf("last byte write failed: %v", err)
	}
}

func TestDirect(t *testing.T) {
	m := New(0x100)
	d := m.Direct()
	d[0x20] = 0x42
	got, _ := m.Read(0x20, 1)
	if got[0] != 0x42 {
		t.Errorf("direct write not visible, got %02x", got[0])
	}
}
