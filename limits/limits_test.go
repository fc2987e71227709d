package limits

import (
	"sync"
	"testing"
	"time"
)

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release should always succeed.
	if !m.Acquire("any-process") {
		t.Fatal("expected Acquire to succeed for unconfigured process")
	}
	m.Release("any-process")
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		ProcessID:      "tool-runner",
		MaxConcurrency: 2,
	})

	if !m.Acquire("tool-runner") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("tool-runner") {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if m.Acquire("tool-runner") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	m.Release("tool-runner")
	if !m.Acquire("tool-runner") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_AcquireRelease_ActiveCount(t *testing.T) {
	m := NewManager(Config{
		ProcessID:      "p",
		MaxConcurrency: 5,
	})

	for i := range 3 {
		if !m.Acquire("p") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount("p") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("p"))
	}

	m.Release("p")
	m.Release("p")
	if m.ActiveCount("p") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("p"))
	}
}

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{
		ProcessID: "limited",
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	if !m.Acquire("limited") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release("limited")

	// Immediately after, token bucket is empty.
	if m.Acquire("limited") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire("limited") {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release("limited")
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{
		ProcessID: "bursty",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate acquires should succeed (burst = 3).
	for i := range 3 {
		if !m.Acquire("bursty") {
			t.Fatalf("Acquire %d should succeed within burst", i)
		}
	}
}

func TestManager_SetConfig_PreservesActive(t *testing.T) {
	m := NewManager(Config{
		ProcessID:      "p",
		MaxConcurrency: 5,
	})

	if !m.Acquire("p") {
		t.Fatal("Acquire should succeed")
	}

	m.SetConfig(Config{
		ProcessID:      "p",
		MaxConcurrency: 1,
	})

	if m.ActiveCount("p") != 1 {
		t.Fatalf("expected active count preserved, got %d", m.ActiveCount("p"))
	}
	// At the new limit already.
	if m.Acquire("p") {
		t.Fatal("Acquire should fail at new limit")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{
		ProcessID:      "p",
		MaxConcurrency: 10,
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("p") {
				m.Release("p")
			}
		}()
	}
	wg.Wait()

	if got := m.ActiveCount("p"); got != 0 {
		t.Fatalf("expected 0 active after all released, got %d", got)
	}
}
