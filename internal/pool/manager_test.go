package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock — управляемое время для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, clock *fakeClock, resources ...Resource) *Manager {
	t.Helper()

	cfg := Config{
		Resources:    resources,
		CheckoutWait: 10 * time.Millisecond,
		Cooldown:     time.Minute,
	}
	if clock != nil {
		cfg.Now = clock.Now
	}

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// --- Checkout / Checkin Tests ---

func TestCheckout_ReturnsLease(t *testing.T) {
	m := newTestManager(t, nil, Resource{ID: "p1", Scope: "proxy", Value: "10.0.0.1:8080"})

	lease, err := m.Checkout(context.Background(), "proxy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.ResourceID != "p1" || lease.Value != "10.0.0.1:8080" {
		t.Errorf("unexpected lease: %+v", lease)
	}
	if lease.Health != HealthHealthy {
		t.Errorf("expected healthy, got %s", lease.Health)
	}
	if !lease.ExpiresAt.After(lease.CheckedOutAt) {
		t.Error("ExpiresAt should be after CheckedOutAt")
	}
	if m.Leased("proxy") != 1 {
		t.Errorf("expected 1 leased, got %d", m.Leased("proxy"))
	}
}

func TestCheckout_UnavailableWhenExhausted(t *testing.T) {
	m := newTestManager(t, nil, Resource{ID: "p1", Scope: "proxy"})

	if _, err := m.Checkout(context.Background(), "proxy"); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	start := time.Now()
	_, err := m.Checkout(context.Background(), "proxy")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// Ожидание ограничено CheckoutWait
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("checkout waited too long: %v", elapsed)
	}
}

func TestCheckout_UnknownScope(t *testing.T) {
	m := newTestManager(t, nil, Resource{ID: "p1", Scope: "proxy"})

	_, err := m.Checkout(context.Background(), "api_key")
	if !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
}

func TestCheckout_WakesOnCheckin(t *testing.T) {
	m, err := New(Config{
		Resources:    []Resource{{ID: "p1", Scope: "proxy"}},
		CheckoutWait: 2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	lease, _ := m.Checkout(context.Background(), "proxy")

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Checkin(lease, ObservedSuccess)
	}()

	got, err := m.Checkout(context.Background(), "proxy")
	if err != nil {
		t.Fatalf("expected lease after checkin, got %v", err)
	}
	if got.ID == lease.ID {
		t.Error("new checkout should produce a new lease id")
	}
}

func TestCheckin_Twice(t *testing.T) {
	m := newTestManager(t, nil, Resource{ID: "p1", Scope: "proxy"})

	lease, _ := m.Checkout(context.Background(), "proxy")
	if err := m.Checkin(lease, ObservedSuccess); err != nil {
		t.Fatalf("first checkin: %v", err)
	}
	if err := m.Checkin(lease, ObservedSuccess); !errors.Is(err, ErrLeaseNotHeld) {
		t.Errorf("expected ErrLeaseNotHeld, got %v", err)
	}
	if m.Leased("proxy") != 0 {
		t.Errorf("expected 0 leased, got %d", m.Leased("proxy"))
	}
}

func TestCheckout_LeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock,
		Resource{ID: "p1", Scope: "proxy"},
		Resource{ID: "p2", Scope: "proxy"},
	)

	first, _ := m.Checkout(context.Background(), "proxy")
	clock.Advance(time.Second)
	m.Checkin(first, ObservedSuccess)

	// Второй ресурс ещё не использовался — он и должен быть выдан
	next, _ := m.Checkout(context.Background(), "proxy")
	if next.ResourceID == first.ResourceID {
		t.Errorf("expected LRU resource, got %s again", next.ResourceID)
	}
}

// --- Health Tests ---

func TestHealth_DegradedThenBlacklisted(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, Resource{ID: "p1", Scope: "proxy"})

	fail := func() {
		t.Helper()
		lease, err := m.Checkout(context.Background(), "proxy")
		if err != nil {
			t.Fatalf("checkout: %v", err)
		}
		m.Checkin(lease, ObservedFailure)
	}

	fail()
	fail()
	if s := m.Snapshot()[0]; s.Degraded != 1 {
		t.Fatalf("expected degraded after 2 failures, got %+v", s)
	}

	fail()
	fail()
	fail()
	if s := m.Snapshot()[0]; s.Blacklisted != 1 {
		t.Fatalf("expected blacklisted after 5 failures, got %+v", s)
	}

	// До окончания cool-down ресурс не выдаётся
	if _, err := m.Checkout(context.Background(), "proxy"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("blacklisted resource must not be handed out, got %v", err)
	}
}

func TestHealth_ProbationRecovers(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, Resource{ID: "p1", Scope: "proxy"})

	for i := 0; i < 5; i++ {
		lease, _ := m.Checkout(context.Background(), "proxy")
		m.Checkin(lease, ObservedFailure)
	}

	clock.Advance(2 * time.Minute)

	lease, err := m.Checkout(context.Background(), "proxy")
	if err != nil {
		t.Fatalf("expected probation checkout, got %v", err)
	}
	if !lease.Probation {
		t.Error("lease should be on probation")
	}

	m.Checkin(lease, ObservedSuccess)
	if s := m.Snapshot()[0]; s.Healthy != 1 {
		t.Errorf("expected healthy after probation success, got %+v", s)
	}
}

func TestHealth_ProbationFailureReblacklists(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, Resource{ID: "p1", Scope: "proxy"})

	for i := 0; i < 5; i++ {
		lease, _ := m.Checkout(context.Background(), "proxy")
		m.Checkin(lease, ObservedFailure)
	}
	clock.Advance(2 * time.Minute)

	lease, _ := m.Checkout(context.Background(), "proxy")
	m.Checkin(lease, ObservedFailure)

	if _, err := m.Checkout(context.Background(), "proxy"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("resource should be blacklisted again, got %v", err)
	}
}

func TestCheckout_PrefersHealthy(t *testing.T) {
	clock := newFakeClock()
	m, err := New(Config{
		Resources: []Resource{
			{ID: "p1", Scope: "proxy"},
			{ID: "p2", Scope: "proxy"},
		},
		DegradeAfter: 1,
		CheckoutWait: 10 * time.Millisecond,
		Now:          clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}

	bad, _ := m.Checkout(context.Background(), "proxy")
	good, _ := m.Checkout(context.Background(), "proxy")

	m.Checkin(bad, ObservedFailure)
	clock.Advance(time.Second)
	// good использован позже: по LRU выиграл бы bad, но он degraded
	m.Checkin(good, ObservedSuccess)

	lease, _ := m.Checkout(context.Background(), "proxy")
	if lease.ResourceID != good.ResourceID {
		t.Errorf("expected healthy resource %s, got %s", good.ResourceID, lease.ResourceID)
	}
}

// --- Reap Tests ---

func TestReap_ReclaimsExpired(t *testing.T) {
	clock := newFakeClock()
	m, err := New(Config{
		Resources: []Resource{{ID: "p1", Scope: "proxy"}},
		LeaseTTL:  time.Minute,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}

	lease, _ := m.Checkout(context.Background(), "proxy")

	if n := m.Reap(clock.Now()); n != 0 {
		t.Fatalf("nothing should be reaped yet, got %d", n)
	}

	clock.Advance(2 * time.Minute)
	if n := m.Reap(clock.Now()); n != 1 {
		t.Fatalf("expected 1 reaped lease, got %d", n)
	}
	if m.Leased("proxy") != 0 {
		t.Error("reaped lease should be returned")
	}
	if err := m.Checkin(lease, ObservedSuccess); !errors.Is(err, ErrLeaseNotHeld) {
		t.Errorf("checkin after reap should fail with ErrLeaseNotHeld, got %v", err)
	}
}

// --- Accounting Tests ---

func TestAccounting_NeverExceedsScopeSize(t *testing.T) {
	m := newTestManager(t, nil,
		Resource{ID: "p1", Scope: "proxy"},
		Resource{ID: "p2", Scope: "proxy"},
	)

	var (
		inUse   atomic.Int32
		maxSeen atomic.Int32
		held    sync.Map
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				lease, err := m.Checkout(context.Background(), "proxy")
				if err != nil {
					continue
				}
				if _, dup := held.LoadOrStore(lease.ResourceID, true); dup {
					t.Errorf("resource %s leased twice", lease.ResourceID)
				}
				n := inUse.Add(1)
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inUse.Add(-1)
				held.Delete(lease.ResourceID)
				m.Checkin(lease, ObservedSuccess)
			}
		}()
	}
	wg.Wait()

	if maxSeen.Load() > 2 {
		t.Errorf("leased resources exceeded scope size: %d", maxSeen.Load())
	}
	if m.Leased("proxy") != 0 {
		t.Errorf("all leases should be returned, got %d", m.Leased("proxy"))
	}
}

func TestNew_DuplicateResource(t *testing.T) {
	_, err := New(Config{Resources: []Resource{
		{ID: "p1", Scope: "proxy"},
		{ID: "p1", Scope: "proxy"},
	}})
	if !errors.Is(err, ErrDuplicateResource) {
		t.Errorf("expected ErrDuplicateResource, got %v", err)
	}
}
