package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dermodel/internal/metrics"

	"go.uber.org/zap"
)

// DefaultMaxBrowsers caps live managers when no limit is given.
const DefaultMaxBrowsers = 10000

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("session registry closed")

// Factory builds and initializes the Manager for a browser. The returned
// release func frees whatever the Manager was built on.
type Factory func(ctx context.Context, browserID string) (m *Manager, release func(), err error)

type entry struct {
	manager  *Manager
	release  func()
	lastSeen time.Time
}

// Registry keeps one Manager per browser session and evicts idle ones.
// When full, the least recently used browser makes room for a new one.
type Registry struct {
	factory Factory
	idle    time.Duration
	limit   int
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRegistry creates a registry that evicts browsers idle for longer
// than idle and keeps at most limit managers (DefaultMaxBrowsers when
// limit is not positive).
func NewRegistry(factory Factory, idle time.Duration, limit int, logger *zap.Logger) *Registry {
	if limit <= 0 {
		limit = DefaultMaxBrowsers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		idle:    idle,
		limit:   limit,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Get returns the Manager for browserID, creating it on first use.
func (r *Registry) Get(ctx context.Context, browserID string) (*Manager, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if e, ok := r.entries[browserID]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.manager, nil
	}
	r.mu.Unlock()

	m, release, err := r.factory(ctx, browserID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		m.Close()
		release()
		return nil, ErrRegistryClosed
	}
	if e, ok := r.entries[browserID]; ok {
		// Lost a race with a concurrent request from the same browser.
		e.lastSeen = r.now()
		r.mu.Unlock()
		m.Close()
		release()
		return e.manager, nil
	}
	var evicted *entry
	if len(r.entries) >= r.limit {
		evicted = r.evictOldestLocked()
	}
	r.entries[browserID] = &entry{manager: m, release: release, lastSeen: r.now()}
	n := len(r.entries)
	r.mu.Unlock()

	if evicted != nil {
		evicted.manager.Close()
		evicted.release()
		r.logger.Debug("evicted least recently used browser session", zap.Int("limit", r.limit))
	}
	metrics.SetBrowserSessions(n)
	return m, nil
}

func (r *Registry) evictOldestLocked() *entry {
	var oldestID string
	var oldest *entry
	for id, e := range r.entries {
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, e
		}
	}
	if oldest != nil {
		delete(r.entries, oldestID)
	}
	return oldest
}

// Sweep tears down managers not used within the idle timeout and returns
// how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []*entry
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(r.entries, id)
		}
	}
	n := len(r.entries)
	r.mu.Unlock()

	for _, e := range stale {
		e.manager.Close()
		e.release()
	}
	if len(stale) > 0 {
		r.logger.Debug("evicted idle browser sessions", zap.Int("count", len(stale)), zap.Int("active", n))
	}
	metrics.SetBrowserSessions(n)
	return len(stale)
}

// Run sweeps on every interval until ctx is done, then closes every
// remaining manager.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close tears down every manager. Get fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.manager.Close()
		e.release()
	}
	metrics.SetBrowserSessions(0)
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
