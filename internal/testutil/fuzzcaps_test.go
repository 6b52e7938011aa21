package testutil

import "testing"

func TestCapBytes(t *testing.T) {
	b := []byte("abcdef")
	if got := CapBytes(b, 3); string(got) != "abc" {
		t.Fatalf("CapBytes=%q", got)
	}
	if got := CapBytes(b, 0); string(got) != "abcdef" {
		t.Fatalf("CapBytes with no cap=%q", got)
	}
	if got := CapBytes(b, 10); string(got) != "abcdef" {
		t.Fatalf("CapBytes above len=%q", got)
	}
}
