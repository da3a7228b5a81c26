package raft

import "testing"

func TestDigestDeterministic(t *testing.T) {
	a := Digest("server-1", 7)
	b := Digest("server-1", 7)
	if a != b {
		t.Fatalf("Digest not deterministic: %d != %d", a, b)
	}
}

func TestDigestDistinguishesInputs(t *testing.T) {
	base := Digest("server-1", 0)
	if Digest("server-2", 0) == base {
		t.Fatalf("Digest collided across different text")
	}
	if Digest("server-1", 1) == base {
		t.Fatalf("Digest collided across different n")
	}
}
