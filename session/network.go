// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxBackoffExponent = 6

// backoffState tracks one target's exponential backoff (ยง4.A).
type backoffState struct {
	exponent    int
	nextAttempt time.Time
}

// Network is the per-address, process-wide target list and backoff state
// (ยง3 "Network"). It is shared by every Session dialing the same address,
// so a target one session marks failed is avoided by all of them.
type Network struct {
	key string

	mu      sync.Mutex
	targets []string
	backoff map[string]*backoffState
	limiter *rate.Limiter

	now func() time.Time
	rng func(n int) int
}

func newNetwork(key string, targets []string) *Network {
	n := len(targets)
	if n == 0 {
		n = 1
	}
	return &Network{
		key:     key,
		targets: append([]string(nil), targets...),
		backoff: make(map[string]*backoffState),
		limiter: rate.NewLimiter(rate.Limit(n), n),
		now:     time.Now,
		rng:     rand.Intn,
	}
}

// Pick selects a target for a new request against this network (ยง4.A).
// When random is true (CreateSession, and the initial and every retried
// pick of GetMessages) a uniformly random eligible target is chosen instead
// of walking the queue in order -- the rendering, at pick time, of the
// original design's "shuffle the SRV result set" intent (ยง9). Pick blocks
// until a target becomes eligible or ctx is done; that block is the
// Go-idiomatic rendering of ยง4.A step 4's "schedule a re-pick at the
// soonest eligible time".
func (n *Network) Pick(ctx context.Context, random bool) (string, error) {
	for {
		target, wait, ok := n.tryPick(random)
		if ok {
			return target, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (n *Network) tryPick(random bool) (target string, wait time.Duration, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.targets) == 0 {
		return "", time.Second, false
	}

	now := n.now()

	if random {
		var eligible []int
		for i, t := range n.targets {
			if n.eligibleLocked(t, now) {
				eligible = append(eligible, i)
			}
		}
		if len(eligible) > 0 {
			idx := eligible[n.rng(len(eligible))]
			target = n.targets[idx]
			n.moveToHeadLocked(idx)
			return target, 0, true
		}
		return "", n.soonestLocked(now), false
	}

	// random == false: the deterministic round-robin-with-backoff walk of
	// ยง4.A steps 1-4.
	head := n.targets[0]
	if n.eligibleLocked(head, now) {
		return head, 0, true
	}
	n.targets = append(n.targets[1:], head)
	for i, t := range n.targets {
		if n.eligibleLocked(t, now) {
			n.moveToHeadLocked(i)
			return t, 0, true
		}
	}
	return "", n.soonestLocked(now), false
}

func (n *Network) eligibleLocked(target string, now time.Time) bool {
	b, ok := n.backoff[target]
	return !ok || !b.nextAttempt.After(now)
}

func (n *Network) moveToHeadLocked(idx int) {
	if idx == 0 {
		return
	}
	t := n.targets[idx]
	n.targets = append(n.targets[:idx], n.targets[idx+1:]...)
	n.targets = append([]string{t}, n.targets...)
}

func (n *Network) soonestLocked(now time.Time) time.Duration {
	var soonest time.Duration = time.Second
	found := false
	for _, t := range n.targets {
		b, ok := n.backoff[t]
		if !ok {
			continue
		}
		wait := b.nextAttempt.Sub(now)
		if !found || wait < soonest {
			soonest = wait
			found = true
		}
	}
	if !found || soonest <= 0 {
		return 10 * time.Millisecond
	}
	return soonest
}

// Failed records a failed attempt against target and bumps its exponential
// backoff: next_attempt = now + 2^exponent + jitter, jitter uniform in
// [0, exponent] seconds, exponent capped at 6 (ยง4.A).
func (n *Network) Failed(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	b, ok := n.backoff[target]
	if !ok {
		b = &backoffState{}
		n.backoff[target] = b
	}
	if b.exponent < maxBackoffExponent {
		b.exponent++
	}
	jitter := time.Duration(n.rng(b.exponent+1)) * time.Second
	wait := time.Duration(1<<uint(b.exponent))*time.Second + jitter
	b.nextAttempt = n.now().Add(wait)
}

// Succeeded clears target's backoff state (ยง4.A).
func (n *Network) Succeeded(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.backoff, target)
}

// UpdateTargets replaces the live target list with newTargets, as observed
// in a RobustPing's Servers field (ยง4.A, ยง4.D). If newTargets is a
// case-insensitive set-equal to the current list, the update is discarded
// so that retry/pick order is not perturbed by a server simply echoing the
// same set back in a different order (ยง8).
func (n *Network) UpdateTargets(newTargets []string) {
	if len(newTargets) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if setEqual(n.targets, newTargets) {
		return
	}
	n.targets = append([]string(nil), newTargets...)
	n.limiter.SetBurst(max(1, len(n.targets)))
	n.limiter.SetLimit(rate.Limit(max(1, len(n.targets))))
}

// Wait blocks until the network's defensive rate limiter admits another
// request, or ctx is done (ยง4.A "Rate shaping"). This is an additive
// pacing layer on top of, not a replacement for, per-target backoff.
func (n *Network) Wait(ctx context.Context) error {
	return n.limiter.Wait(ctx)
}

func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(foldedSorted(a), foldedSorted(b))
}

func foldedSorted(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	slices.Sort(out)
	return out
}

// Registry is the process-wide, address-keyed store of Networks. It is
// shared across Sessions so that a bad target discovered by one session is
// avoided by every other session dialing the same address (ยง3, ยง5).
type Registry struct {
	mu        sync.Mutex
	networks  map[string]*Network
	srvLookup func(ctx context.Context, address string) ([]string, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		networks:  make(map[string]*Network),
		srvLookup: lookupSRV,
	}
}

// Resolve discovers address's target set (ยง4.A). If address contains a
// comma it is treated as a literal, trimmed, comma-separated host:port
// list (a testing and pinned-server hook); otherwise a DNS SRV lookup for
// "_robustirc._tcp.<address>" is performed. Resolve is idempotent:
// concurrent or repeated calls for the same address return the same
// *Network, and only the first successful lookup populates it (ยง4.A).
func (r *Registry) Resolve(ctx context.Context, address string) (*Network, error) {
	key := strings.ToLower(address)

	r.mu.Lock()
	if n, ok := r.networks[key]; ok {
		r.mu.Unlock()
		return n, nil
	}
	r.mu.Unlock()

	var targets []string
	if strings.Contains(address, ",") {
		for _, part := range strings.Split(address, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				targets = append(targets, part)
			}
		}
	} else {
		var err error
		targets, err = r.srvLookup(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolveFailure, err)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets for %q", ErrResolveFailure, address)
	}

	n := newNetwork(key, targets)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.networks[key]; ok {
		return existing, nil
	}
	r.networks[key] = n
	return n, nil
}

func lookupSRV(ctx context.Context, address string) ([]string, error) {
	_, addrs, err := net.DefaultResolver.LookupSRV(ctx, "robustirc", "tcp", address)
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(addrs))
	for _, a := range addrs {
		host := strings.TrimSuffix(a.Target, ".")
		targets = append(targets, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
	}
	return targets, nil
}
