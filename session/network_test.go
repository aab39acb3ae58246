// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

import (
	"context"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func zeroRNG(n int) int { return 0 }

// A healthy head target stays at the head, so non-random picks keep
// returning it while it has no backoff.
func TestNetworkPickDeterministicSticksToHealthyHead(t *testing.T) {
	n := newNetwork("test", []string{"a", "b", "c"})
	n.now = fixedClock(time.Unix(0, 0))
	n.rng = zeroRNG

	for _, want := range []string{"a", "a", "a", "a", "a"} {
		got, err := n.Pick(context.Background(), false)
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if got != want {
			t.Fatalf("Pick() = %q, want %q", got, want)
		}
	}
}

func TestNetworkPickSkipsFailedTarget(t *testing.T) {
	now := time.Unix(1000, 0)
	n := newNetwork("test", []string{"a", "b", "c"})
	n.now = fixedClock(now)
	n.rng = zeroRNG

	n.Failed("a") // a now backed off for 2s (2^1 + jitter[0,1] = 0)

	got, err := n.Pick(context.Background(), false)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got != "b" {
		t.Fatalf("Pick() = %q, want %q (a should be skipped)", got, "b")
	}
}

func TestNetworkFailedBackoffExponentialAndCapped(t *testing.T) {
	n := newNetwork("test", []string{"a"})
	base := time.Unix(0, 0)
	n.now = fixedClock(base)
	n.rng = zeroRNG

	for i := 0; i < 10; i++ {
		n.Failed("a")
	}
	b := n.backoff["a"]
	if b.exponent != maxBackoffExponent {
		t.Fatalf("exponent = %d, want capped at %d", b.exponent, maxBackoffExponent)
	}
}

func TestNetworkSucceededClearsBackoff(t *testing.T) {
	n := newNetwork("test", []string{"a"})
	n.now = fixedClock(time.Unix(0, 0))
	n.rng = zeroRNG

	n.Failed("a")
	if _, ok := n.backoff["a"]; !ok {
		t.Fatal("expected backoff entry after Failed")
	}
	n.Succeeded("a")
	if _, ok := n.backoff["a"]; ok {
		t.Fatal("expected backoff entry cleared after Succeeded")
	}
}

func TestNetworkPickRandomOnlyConsidersEligible(t *testing.T) {
	now := time.Unix(5000, 0)
	n := newNetwork("test", []string{"a", "b", "c"})
	n.now = fixedClock(now)
	n.rng = func(k int) int { return k - 1 } // always pick the last eligible index

	n.Failed("a")
	n.Failed("b")

	got, err := n.Pick(context.Background(), true)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got != "c" {
		t.Fatalf("Pick(random=true) = %q, want %q (only eligible target)", got, "c")
	}
}

func TestNetworkPickRandomRotatesWinnerToHead(t *testing.T) {
	n := newNetwork("test", []string{"a", "b", "c"})
	n.now = fixedClock(time.Unix(0, 0))
	n.rng = func(k int) int { return 1 } // pick index 1 among eligible == "b"

	got, err := n.Pick(context.Background(), true)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got != "b" {
		t.Fatalf("Pick(random=true) = %q, want %q", got, "b")
	}
	if n.targets[0] != "b" {
		t.Fatalf("targets[0] = %q, want %q (picked target should move to head)", n.targets[0], "b")
	}
}

func TestNetworkUpdateTargetsDiscardsSetEqual(t *testing.T) {
	n := newNetwork("test", []string{"a", "b", "c"})
	n.UpdateTargets([]string{"C", "A", "B"})
	if n.targets[0] != "a" || n.targets[1] != "b" || n.targets[2] != "c" {
		t.Fatalf("targets = %v, want unchanged order (set-equal update should be discarded)", n.targets)
	}
}

func TestNetworkUpdateTargetsReplacesOnRealChange(t *testing.T) {
	n := newNetwork("test", []string{"a", "b", "c"})
	n.UpdateTargets([]string{"d", "e"})
	if len(n.targets) != 2 || n.targets[0] != "d" || n.targets[1] != "e" {
		t.Fatalf("targets = %v, want [d e]", n.targets)
	}
}

func TestNetworkPickBlocksUntilEligible(t *testing.T) {
	n := newNetwork("test", []string{"a"})
	start := time.Now()
	n.now = func() time.Time { return start }
	n.rng = zeroRNG
	n.Failed("a") // next_attempt = start + 2s

	// Advance the clock after a short real-time delay so Pick's internal
	// timer has to fire and retry at least once.
	go func() {
		time.Sleep(20 * time.Millisecond)
		n.mu.Lock()
		n.now = func() time.Time { return start.Add(2 * time.Second) }
		n.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := n.Pick(ctx, false)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got != "a" {
		t.Fatalf("Pick() = %q, want %q", got, "a")
	}
}

func TestNetworkPickCancelledContext(t *testing.T) {
	n := newNetwork("test", []string{"a"})
	n.now = fixedClock(time.Unix(0, 0))
	n.rng = zeroRNG
	n.Failed("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.Pick(ctx, false); err == nil {
		t.Fatal("expected error from Pick on cancelled context")
	}
}

func TestRegistryResolveIdempotent(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.srvLookup = func(ctx context.Context, address string) ([]string, error) {
		calls++
		return []string{"a:1", "b:2"}, nil
	}

	n1, err := r.Resolve(context.Background(), "Example.Net")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	n2, err := r.Resolve(context.Background(), "example.net")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n1 != n2 {
		t.Fatal("expected the same *Network for a case-insensitive repeat Resolve")
	}
	if calls != 1 {
		t.Fatalf("srvLookup called %d times, want 1", calls)
	}
}

func TestRegistryResolveCommaListIsLiteral(t *testing.T) {
	r := NewRegistry()
	n, err := r.Resolve(context.Background(), "a:1, b:2 ,c:3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"a:1", "b:2", "c:3"}
	if len(n.targets) != len(want) {
		t.Fatalf("targets = %v, want %v", n.targets, want)
	}
	for i, w := range want {
		if n.targets[i] != w {
			t.Fatalf("targets[%d] = %q, want %q", i, n.targets[i], w)
		}
	}
}

func TestRegistryResolveFailurePropagates(t *testing.T) {
	r := NewRegistry()
	r.srvLookup = func(ctx context.Context, address string) ([]string, error) {
		return nil, context.DeadlineExceeded
	}
	if _, err := r.Resolve(context.Background(), "example.net"); err == nil {
		t.Fatal("expected error from Resolve")
	}
}
