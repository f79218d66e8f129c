package fdmem

import "testing"

func TestAllocAndRealPtr(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	vp, err := a.Alloc([]byte("hello"))
	if err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}
	if vp != 1 {
		t.Errorf("first Alloc vp = %d, want 1", vp)
	}

	got, ok := a.RealPtr(vp, 5)
	if !ok {
		t.Fatal("RealPtr() should resolve a just-allocated pointer")
	}
	if string(got) != "hello" {
		t.Errorf("RealPtr() = %q, want %q", got, "hello")
	}
}

func TestRealPtrRejectsNull(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	if _, ok := a.RealPtr(0, 1); ok {
		t.Error("RealPtr(0, ...) should be null")
	}
}

func TestRealPtrOutOfRange(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	vp, err := a.Alloc([]byte("ab"))
	if err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}

	if _, ok := a.RealPtr(vp, 3); ok {
		t.Error("RealPtr() reading past the occupied cursor should fail")
	}
	if _, ok := a.RealPtr(vp+100, 1); ok {
		t.Error("RealPtr() on an unallocated offset should fail")
	}
}

func TestAllocGrowsArena(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	big := make([]byte, InitialCapacity*2)
	for i := range big {
		big[i] = byte(i)
	}
	vp, err := a.Alloc(big)
	if err != nil {
		t.Fatalf("Alloc() of oversized payload error: %v", err)
	}
	got, ok := a.RealPtr(vp, uint64(len(big)))
	if !ok {
		t.Fatal("RealPtr() should resolve after grow")
	}
	if string(got) != string(big) {
		t.Error("arena contents mismatched after grow")
	}
}

func TestSeal(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Close()

	vp, err := a.Alloc([]byte("sealed"))
	if err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}
	if err := a.Seal(); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if _, err := a.Alloc([]byte("x")); err == nil {
		t.Error("Alloc() after Seal() should fail")
	}
	got, ok := a.RealPtr(vp, 6)
	if !ok || string(got) != "sealed" {
		t.Error("sealed arena should still resolve existing pointers")
	}
}
