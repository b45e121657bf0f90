package bitfield

import "testing"

func TestSetAndHas(t *testing.T) {
	bf := New(10)
	if bf.Has(3) {
		t.Fatalf("bit 3 should start clear")
	}
	if !bf.Set(3) {
		t.Fatalf("Set(3) should report a change")
	}
	if bf.Set(3) {
		t.Fatalf("Set(3) twice should report no change")
	}
	if !bf.Has(3) {
		t.Fatalf("bit 3 should be set")
	}
}

func TestHas_OutOfRange(t *testing.T) {
	bf := New(4)
	if bf.Has(-1) || bf.Has(100) {
		t.Fatalf("out-of-range Has should be false")
	}
}

func TestFromBytes_Independent(t *testing.T) {
	src := []byte{0xFF}
	bf := FromBytes(src)
	src[0] = 0x00
	if !bf.Has(0) {
		t.Fatalf("FromBytes should copy, not alias, its input")
	}
}

func TestAllWithin(t *testing.T) {
	bf := New(10)
	for i := 0; i < 5; i++ {
		bf.Set(i)
	}

	if bf.AllWithin(5) != true {
		t.Fatalf("AllWithin(5) should be true once bits [0,5) are set")
	}
	if bf.AllWithin(6) != false {
		t.Fatalf("AllWithin(6) should be false with bit 5 clear")
	}
	if bf.AllWithin(0) != false {
		t.Fatalf("AllWithin(0) should be false: an empty range is not a seed")
	}
}

func TestLen(t *testing.T) {
	if got := New(9).Len(); got != 16 {
		t.Fatalf("Len() = %d, want 16 (padded to a byte boundary)", got)
	}
}
