package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ventalink/salesbridge/internal/store"
)

// Monitor classifies the remote store as reachable or not. The answer is
// advisory: a write may still fail after IsReachable returned true, so every
// remote call keeps its own failure path. Probe results are cached for a short
// TTL to bound the per-call overhead.
type Monitor struct {
	remote  store.RemoteStore
	ttl     time.Duration
	timeout time.Duration

	// onChange fires outside the lock on every online/offline transition.
	onChange func(online bool)

	// probeMu serializes probes so concurrent callers share one ping. The
	// state lock below is never held across a network call.
	probeMu sync.Mutex

	mu           sync.Mutex
	reachable    bool
	checkedAt    time.Time
	successCount int
	failureCount int
	lastLatency  time.Duration
}

// NewMonitor creates a connectivity monitor for the given remote store
func NewMonitor(remote store.RemoteStore, ttl, timeout time.Duration, onChange func(online bool)) *Monitor {
	return &Monitor{
		remote:   remote,
		ttl:      ttl,
		timeout:  timeout,
		onChange: onChange,
	}
}

// IsReachable reports whether the remote store answered a recent probe. It
// never returns an error: any probe failure simply reads as false. Cached
// reads return immediately even while another caller's probe is in flight.
func (m *Monitor) IsReachable(forceRefresh bool) bool {
	if reachable, ok := m.cached(forceRefresh, time.Time{}); ok {
		return reachable
	}

	waitStart := time.Now()
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	// A probe that completed while this caller waited is fresh enough, even
	// for a forced refresh.
	if reachable, ok := m.cached(forceRefresh, waitStart); ok {
		return reachable
	}
	return m.probe()
}

// cached returns the cached verdict when it is still usable. A non-zero since
// additionally accepts any result newer than that instant.
func (m *Monitor) cached(forceRefresh bool, since time.Time) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkedAt.IsZero() {
		return false, false
	}
	if !forceRefresh && time.Since(m.checkedAt) < m.ttl {
		return m.reachable, true
	}
	if !since.IsZero() && m.checkedAt.After(since) {
		return m.reachable, true
	}
	return false, false
}

// probe pings the remote once and records the verdict. Caller holds probeMu.
func (m *Monitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	err := m.remote.Ping(ctx)
	latency := time.Since(start)

	m.mu.Lock()
	was := m.reachable
	first := m.checkedAt.IsZero()
	m.reachable = err == nil
	m.checkedAt = time.Now()
	m.lastLatency = latency
	if err == nil {
		m.successCount++
	} else {
		m.failureCount++
	}
	reachable := m.reachable
	changed := first || was != reachable
	m.mu.Unlock()

	if changed {
		if reachable {
			log.Printf("🌐 Remote store reachable (probe %v)", latency)
		} else {
			log.Printf("📴 Remote store unreachable: %v", err)
		}
		if m.onChange != nil {
			m.onChange(reachable)
		}
	}
	return reachable
}

// State returns the cached connectivity state without probing
func (m *Monitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectivityState{
		Reachable:    m.reachable,
		CheckedAt:    m.checkedAt,
		SuccessCount: m.successCount,
		FailureCount: m.failureCount,
		LastLatency:  m.lastLatency,
	}
}
