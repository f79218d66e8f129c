package variant

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []Variant{
		Nil(),
		Int(42),
		Int(-7),
		Double(3.25),
		String("hello world"),
		String(""),
	}
	for _, v := range tests {
		encoded := Encode(v)
		if len(encoded) != Size(v) {
			t.Errorf("Size(%v) = %d, want %d", v, Size(v), len(encoded))
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		if decoded != v {
			t.Errorf("round trip = %+v, want %+v", decoded, v)
		}
	}
}

func TestTagMismatch(t *testing.T) {
	v := String("x")
	if _, ok := AsInt(v); ok {
		t.Error("AsInt should fail on a string variant")
	}
	if _, ok := AsDouble(v); ok {
		t.Error("AsDouble should fail on a string variant")
	}
	s, ok := AsString(v)
	if !ok || s != "x" {
		t.Errorf("AsString = (%q, %v), want (%q, true)", s, ok, "x")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("Decode of empty buffer should fail")
	}
	encoded := Encode(String("hello"))
	if _, err := Decode(encoded[:len(encoded)-1]); err == nil {
		t.Error("Decode of truncated string should fail")
	}
}
