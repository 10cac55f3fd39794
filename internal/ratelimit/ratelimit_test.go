package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenDeny(t *testing.T) {
	l := NewLimiter(1, 5)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if l.Allow() {
		t.Error("request allowed past exhausted burst")
	}
}

func TestRefill(t *testing.T) {
	l := NewLimiter(100, 1)
	if !l.Allow() {
		t.Fatal("first request denied")
	}
	if l.Allow() {
		t.Fatal("second immediate request allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow() {
		t.Error("request denied after refill window")
	}
}

func TestAllowN(t *testing.T) {
	l := NewLimiter(1, 10)
	if !l.AllowN(10) {
		t.Fatal("full-burst batch denied")
	}
	if l.AllowN(1) {
		t.Error("batch allowed past exhausted burst")
	}
}
