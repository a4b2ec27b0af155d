package venue

import "testing"

func TestRingTryPushWithinCapacitySucceeds(t *testing.T) {
	r := NewRing[int](2)
	if !r.TryPush(1) {
		t.Fatal("expected push to succeed")
	}
	if !r.TryPush(2) {
		t.Fatal("expected push to succeed")
	}
}

func TestRingTryPushDropsWhenFull(t *testing.T) {
	r := NewRing[int](1)
	if !r.TryPush(1) {
		t.Fatal("expected first push to succeed")
	}
	if r.TryPush(2) {
		t.Fatal("expected second push to be dropped when ring is full")
	}
}

func TestRingLenAndCap(t *testing.T) {
	r := NewRing[int](5)
	r.TryPush(1)
	r.TryPush(2)
	if r.Len() != 2 {
		t.Fatalf("expected len 2, got %d", r.Len())
	}
	if r.Cap() != 5 {
		t.Fatalf("expected cap 5, got %d", r.Cap())
	}
}

func TestRingChanDrains(t *testing.T) {
	r := NewRing[int](2)
	r.TryPush(7)
	r.Close()
	v, ok := <-r.Chan()
	if !ok || v != 7 {
		t.Fatalf("expected to drain value 7, got %v ok=%v", v, ok)
	}
	_, ok = <-r.Chan()
	if ok {
		t.Fatal("expected channel closed after drain")
	}
}
