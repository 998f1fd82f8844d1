// Package graphcache coordinates reachability analysis over the flow
// graph: lock acquisition, cache population through the discoverer,
// guarded page reads, eviction, and lock-change notification for
// blocked waiters.
package graphcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flexinfer/flowreach/internal/metrics"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/pkg/types"
)

var (
	// ErrWaitTimeout reports that no matching lock-state transition arrived
	// within the wait window.
	ErrWaitTimeout = errors.New("lock wait timed out")

	// ErrNotifierClosed reports a wait against a torn-down hub.
	ErrNotifierClosed = errors.New("notifier closed")
)

// LockChange is the payload fanned out to waiters after every acquire
// and release.
type LockChange struct {
	GraphID     string               `json:"graph_id"`
	Version     int64                `json:"version"`
	Fingerprint types.Fingerprint    `json:"fingerprint"`
	State       reachstore.LockState `json:"state"`
}

// Filter decides whether a lock-state transition is interesting to a
// waiter. Transitions that leave the lock unavailable to the waiter's
// intended kind are skipped.
type Filter func(reachstore.LockState) bool

// FilterAny passes every transition.
func FilterAny(reachstore.LockState) bool { return true }

// FilterReaderLockable passes transitions after which a reader acquire
// may succeed.
func FilterReaderLockable(s reachstore.LockState) bool { return !s.Writer }

// FilterWriterLockable passes transitions after which a writer acquire
// may succeed.
func FilterWriterLockable(s reachstore.LockState) bool { return !s.Writer && s.Readers == 0 }

// ParseFilter maps a wire name to a filter. Empty selects FilterAny.
func ParseFilter(name string) (Filter, error) {
	switch name {
	case "", "any":
		return FilterAny, nil
	case "reader-lockable":
		return FilterReaderLockable, nil
	case "writer-lockable":
		return FilterWriterLockable, nil
	default:
		return nil, fmt.Errorf("unknown lock-change filter %q", name)
	}
}

type waiter struct {
	ch     chan LockChange
	filter Filter
}

// Hub is the in-process registry of lock-change waiters, keyed by
// (graph id, version). Each waiter is dispatched at most once and is
// removed on dispatch, timeout, or cancellation.
type Hub struct {
	mu      sync.Mutex
	waiters map[string]map[*waiter]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{waiters: make(map[string]map[*waiter]struct{})}
}

func hubKey(graphID string, version int64) string {
	return fmt.Sprintf("%s:%d", graphID, version)
}

// Publish dispatches the change to every registered waiter whose filter
// matches. Dispatched waiters are removed so each resolves exactly once.
func (h *Hub) Publish(ev LockChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	key := hubKey(ev.GraphID, ev.Version)
	for w := range h.waiters[key] {
		if !w.filter(ev.State) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
		delete(h.waiters[key], w)
	}
	if len(h.waiters[key]) == 0 {
		delete(h.waiters, key)
	}
}

// Wait blocks until a matching transition is published for the
// (graph id, version) pair, the timeout elapses, or ctx is cancelled.
// It never holds any lock while waiting.
func (h *Hub) Wait(ctx context.Context, graphID string, version int64, filter Filter, timeout time.Duration) (LockChange, error) {
	if filter == nil {
		filter = FilterAny
	}
	w := &waiter{ch: make(chan LockChange, 1), filter: filter}
	key := hubKey(graphID, version)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return LockChange{}, ErrNotifierClosed
	}
	if h.waiters[key] == nil {
		h.waiters[key] = make(map[*waiter]struct{})
	}
	h.waiters[key][w] = struct{}{}
	h.mu.Unlock()

	metrics.NotifierWaiters.Inc()
	defer metrics.NotifierWaiters.Dec()
	defer h.remove(key, w)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		return LockChange{}, ErrWaitTimeout
	case <-ctx.Done():
		return LockChange{}, ctx.Err()
	}
}

// pending reports the number of registered waiters for a key.
func (h *Hub) pending(graphID string, version int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[hubKey(graphID, version)])
}

func (h *Hub) remove(key string, w *waiter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.waiters[key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.waiters, key)
		}
	}
}

// Close drops every pending waiter. Blocked Wait calls resolve through
// their context or timeout.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.waiters = make(map[string]map[*waiter]struct{})
}
