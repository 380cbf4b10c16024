package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New()

	if err := c.Set("k", "v", 0); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("Get(k) reported absent after Set")
	}
	if got != "v" {
		t.Errorf("Get(k) = %v, want %q", got, "v")
	}
}

func TestCache_GetMissing(t *testing.T) {
	c := New()
	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache reported present")
	}
}

func TestCache_NegativeTTL(t *testing.T) {
	c := New()
	if err := c.Set("k", "v", -time.Second); err == nil {
		t.Fatal("Set with negative ttl did not return an error")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after rejected Set, want 0", c.Len())
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New()

	if err := c.Set("k", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry absent immediately after Set with ttl")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("entry still present after ttl elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after expiry, want 0", c.Len())
	}
}

func TestCache_TimerEvictsWithoutRead(t *testing.T) {
	c := New()

	if err := c.Set("k", "v", 30*time.Millisecond); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	// Do not touch the key; the scheduled eviction should reclaim it.
	time.Sleep(60 * time.Millisecond)

	if n := c.Len(); n != 0 {
		t.Errorf("Len = %d after timer eviction, want 0", n)
	}
}

func TestCache_SetReplacesTimer(t *testing.T) {
	c := New()

	if err := c.Set("k", "old", 30*time.Millisecond); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	// Replace before expiry without a ttl; the old timer must not fire on
	// the new value.
	if err := c.Set("k", "new", 0); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("replaced entry was evicted by the stale timer")
	}
	if got != "new" {
		t.Errorf("Get(k) = %v, want %q", got, "new")
	}
}

func TestCache_Delete(t *testing.T) {
	c := New()

	if err := c.Set("k", "v", 0); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	if !c.Delete("k") {
		t.Error("Delete of live entry reported false")
	}
	if c.Delete("k") {
		t.Error("second Delete reported true")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("entry present after Delete")
	}
}

func TestCache_Clear(t *testing.T) {
	c := New()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(key, key, time.Minute); err != nil {
			t.Fatalf("Set(%s) returned error: %v", key, err)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry present after Clear")
	}
}
