package buffer

import "testing"

func TestAppendGrows(t *testing.T) {
	b := New(0)
	if !b.Append([]byte("hello")) {
		t.Fatal("Append should succeed with unbounded capacity")
	}
	if b.Len() != 5 {
		t.Errorf("Len() = %d, want 5", b.Len())
	}
	if string(b.Bytes()) != "hello" {
		t.Errorf("Bytes() = %q, want %q", b.Bytes(), "hello")
	}
}

func TestAppendDoublesCapacity(t *testing.T) {
	b := New(0)
	b.Append(make([]byte, 10))
	firstCap := b.Cap()
	if firstCap < 10 {
		t.Fatalf("Cap() = %d, want >= 10", firstCap)
	}
	b.Append(make([]byte, firstCap))
	if b.Cap() < firstCap*2 {
		t.Errorf("Cap() after overflow append = %d, want >= %d", b.Cap(), firstCap*2)
	}
}

func TestAppendRespectsMaxCapacity(t *testing.T) {
	b := New(8)
	if !b.Append(make([]byte, 8)) {
		t.Fatal("Append of exactly max capacity should succeed")
	}
	if b.Append([]byte("x")) {
		t.Error("Append exceeding max capacity should fail")
	}
}

func TestResetAndTruncate(t *testing.T) {
	b := New(0)
	b.Append([]byte("abcdef"))
	b.Truncate(3)
	if string(b.Bytes()) != "abc" {
		t.Errorf("Bytes() after Truncate = %q, want %q", b.Bytes(), "abc")
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", b.Len())
	}
}
