package dedup

import (
	"context"
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("u1", "group:g1", "hi", []string{"k1", "k2"})
	if a != Fingerprint("u1", "group:g1", "hi", []string{"k2", "k1"}) {
		t.Error("attachment order changed the fingerprint")
	}
	if a == Fingerprint("u1", "group:g2", "hi", []string{"k1", "k2"}) {
		t.Error("room not part of the fingerprint")
	}
	if Fingerprint("u1", "r", "ab", nil) == Fingerprint("u1", "ra", "b", nil) {
		t.Error("field boundaries are ambiguous")
	}
}

func TestMemoryWindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewMemoryWindow(5 * time.Second).(*memoryWindow)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	if dup, _ := w.Seen(ctx, "fp"); dup {
		t.Fatal("first sighting reported duplicate")
	}
	now = now.Add(4 * time.Second)
	if dup, _ := w.Seen(ctx, "fp"); !dup {
		t.Fatal("retransmit inside window not detected")
	}
	now = now.Add(6 * time.Second)
	if dup, _ := w.Seen(ctx, "fp"); dup {
		t.Fatal("fingerprint outlived the window")
	}
}

func TestMemoryWindowForget(t *testing.T) {
	w := NewMemoryWindow(time.Minute)
	ctx := context.Background()
	w.Seen(ctx, "fp")
	w.Forget(ctx, "fp")
	if dup, _ := w.Seen(ctx, "fp"); dup {
		t.Error("forgotten fingerprint still suppressed")
	}
}
