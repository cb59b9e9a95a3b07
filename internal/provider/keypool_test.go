package provider

import (
	"errors"
	"testing"
	"time"
)

func TestKeyPoolRoundRobin(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b", "c"}, time.Minute)
	var got []string
	for i := 0; i < 6; i++ {
		key, _, err := pool.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, key)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation %v, want %v", got, want)
		}
	}
}

func TestKeyPoolSkipsCoolingKeys(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b"}, time.Minute)
	pool.MarkRateLimited("a")
	for i := 0; i < 3; i++ {
		key, _, err := pool.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if key != "b" {
			t.Fatalf("cooling key handed out: %q", key)
		}
	}
}

func TestKeyPoolAllCooling(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b"}, time.Minute)
	pool.MarkRateLimited("a")
	pool.MarkRateLimited("b")
	_, wait, err := pool.Next()
	if !errors.Is(err, ErrNoUsableKey) {
		t.Fatalf("want ErrNoUsableKey, got %v", err)
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("wait = %v, want within cooldown window", wait)
	}
}

func TestKeyPoolCooldownExpires(t *testing.T) {
	pool := NewKeyPool([]string{"a"}, time.Minute)
	now := time.Now()
	pool.now = func() time.Time { return now }
	pool.MarkRateLimited("a")

	if _, _, err := pool.Next(); !errors.Is(err, ErrNoUsableKey) {
		t.Fatalf("key should be cooling, got err=%v", err)
	}

	pool.now = func() time.Time { return now.Add(2 * time.Minute) }
	key, _, err := pool.Next()
	if err != nil || key != "a" {
		t.Fatalf("cooled-down key should return, got %q err=%v", key, err)
	}
}

func TestKeyPoolEmpty(t *testing.T) {
	pool := NewKeyPool(nil, time.Minute)
	if _, _, err := pool.Next(); !errors.Is(err, ErrNoUsableKey) {
		t.Fatalf("want ErrNoUsableKey, got %v", err)
	}
	// marking an unknown key must not panic
	pool.MarkRateLimited("ghost")
}

func TestKeyPoolUnknownKeyIgnored(t *testing.T) {
	pool := NewKeyPool([]string{"a"}, time.Minute)
	pool.MarkRateLimited("not-ours")
	if key, _, err := pool.Next(); err != nil || key != "a" {
		t.Fatalf("pool should be unaffected, got %q err=%v", key, err)
	}
}
