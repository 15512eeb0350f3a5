package ident

import (
	"testing"
	"time"
)

func TestNewString_ValidAndOrdered(t *testing.T) {
	a, err := NewString()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !Valid(a) {
		t.Fatalf("invalid uuid %q", a)
	}
	if a[14] != '7' {
		t.Fatalf("version nibble=%c", a[14])
	}

	time.Sleep(2 * time.Millisecond)
	b, err := NewString()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !(a < b) {
		t.Fatalf("not time-ordered: %s >= %s", a, b)
	}
}

func TestValid(t *testing.T) {
	if Valid("not-a-uuid") {
		t.Fatalf("expected invalid")
	}
}
