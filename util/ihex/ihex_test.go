package ihex

import (
	"errors"
	"strings"
	"testing"

	"github.com/rcornwell/cortex-m0/emu/memory"
)

func TestLoadSimple(t *testing.T) {
	// Two data records and EOF. Checksums are valid.
	img := strings.Join([]string{
		":0400000000100020CC", // 00 10 00 20 at 0
		":0400040009000000EF", // Reset vector
		":00000001FF",
	}, "\n")
	mem := memory.New(0x100)
	n, err := Load(strings.NewReader(img), mem)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Errorf("loaded %d bytes expected 8", n)
	}
	if w, _ := mem.GetWord(0); w != 0x20001000 {
		t.Errorf("word 0 got %08x expected 20001000", w)
	}
	if w, _ := mem.GetWord(4); w != 0x00000009 {
		t.Errorf("word 4 got %08x expected 00000009", w)
	}
}

func TestLoadExtendedAddress(t *testing.T) {
	img := strings.Join([]string{
		":020000040000FA",     // ELA = 0
		":02000000AABBxx",     // Broken hex digits: skipped
		":02001000AABB89",     // AA BB at 0x10
		":00000001FF",
	}, "\n")
	mem := memory.New(0x100)
	n, err := Load(strings.NewReader(img), mem)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("loaded %d bytes expected 2", n)
	}
	b, _ := mem.Read(0x10, 2)
	if b[0] != 0xaa || b[1] != 0xbb {
		t.Errorf("got % x expected aa bb", b)
	}
}

func TestLoadBadChecksum(t *testing.T) {
	img := strings.Join([]string{
		":02001000AABB00", // Wrong checksum: skipped
		":02001000AABB89",
		":00000001FF",
	}, "\n")
	mem := memory.New(0x100)
	n, err := Load(strings.NewReader(img), mem)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("loaded %d bytes expected 2", n)
	}
}

func TestLoadOutOfRange(t *testing.T) {
	img := strings.Join([]string{
		":02100000AABB89", // At 0x1000, past the end: discarded
		":020010 00AABB89",
		":02001000AABB89",
		":00000001FF",
	}, "\n")
	mem := memory.New(0x100)
	n, err := Load(strings.NewReader(img), mem)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("loaded %d bytes expected 2", n)
	}
}

func TestLoadEmpty(t *testing.T) {
	mem := memory.New(0x100)
	if _, err := Load(strings.NewReader(":00000001FF\n"), mem); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}
