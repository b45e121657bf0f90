package picker

import "testing"

func TestPickPiece_OnlyAvailableAndUnpicked(t *testing.T) {
	p := New(4)

	if _, ok := p.PickPiece(); ok {
		t.Fatalf("expected no piece available yet")
	}

	p.RegisterAvailability(2)
	idx, ok := p.PickPiece()
	if !ok || idx != 2 {
		t.Fatalf("PickPiece = (%d,%v), want (2,true)", idx, ok)
	}

	if _, ok := p.PickPiece(); ok {
		t.Fatalf("piece 2 should not be offered twice")
	}
}

func TestPickPiece_NeverReoffersAfterPick(t *testing.T) {
	p := New(2)
	p.RegisterAvailability(0)
	p.RegisterAvailability(1)

	first, ok := p.PickPiece()
	if !ok {
		t.Fatalf("expected a piece")
	}
	second, ok := p.PickPiece()
	if !ok || second == first {
		t.Fatalf("expected the other piece, got %d (first was %d)", second, first)
	}

	if _, ok := p.PickPiece(); ok {
		t.Fatalf("no pieces should remain")
	}
}

func TestReceivedPiece_MarksDone(t *testing.T) {
	p := New(2)
	p.RegisterAvailability(0)
	p.RegisterAvailability(1)

	if p.Done() {
		t.Fatalf("should not be done yet")
	}

	idx, _ := p.PickPiece()
	p.ReceivedPiece(idx)

	if p.HaveCount() != 1 {
		t.Fatalf("HaveCount = %d, want 1", p.HaveCount())
	}
	if !p.HavePiece(idx) {
		t.Fatalf("HavePiece(%d) = false, want true", idx)
	}

	idx2, ok := p.PickPiece()
	if !ok {
		t.Fatalf("expected remaining piece to be pickable")
	}
	p.ReceivedPiece(idx2)

	if !p.Done() {
		t.Fatalf("expected Done() after receiving every piece")
	}
}

func TestReceivedPiece_IdempotentCount(t *testing.T) {
	p := New(1)
	p.RegisterAvailability(0)
	p.ReceivedPiece(0)
	p.ReceivedPiece(0)

	if p.HaveCount() != 1 {
		t.Fatalf("HaveCount = %d, want 1 after duplicate ReceivedPiece", p.HaveCount())
	}
}

func TestRegisterBitfield(t *testing.T) {
	p := New(8)
	have := map[int]bool{1: true, 3: true, 7: true}
	p.RegisterBitfield(func(i int) bool { return have[i] })

	seen := map[int]bool{}
	for {
		idx, ok := p.PickPiece()
		if !ok {
			break
		}
		seen[idx] = true
	}

	if len(seen) != 3 || !seen[1] || !seen[3] || !seen[7] {
		t.Fatalf("got %v, want {1,3,7}", seen)
	}
}
