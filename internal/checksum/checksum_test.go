package checksum

import "testing"

func TestFieldsKnownValue(t *testing.T) {
	got := Fields("abc")
	want := "c3494ca1a2cf8eeb8a11ded316fb55b83c3bbbedb6313cd50415251e5d09e12f"
	if got != want {
		t.Errorf("Fields(abc) = %s, want %s", got, want)
	}
}

func TestFieldsBoundaries(t *testing.T) {
	if Fields("ab", "c") == Fields("a", "bc") {
		t.Error("field boundaries must affect the digest")
	}
	if Fields("x", "y") != Fields("x", "y") {
		t.Error("Fields must be deterministic")
	}
}
