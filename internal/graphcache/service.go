package graphcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flexinfer/flowreach/internal/discover"
	"github.com/flexinfer/flowreach/internal/metrics"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/pkg/types"
)

// ErrWrongEnvironment reports an operation whose environment fingerprint
// does not match the generation the lock was granted for.
var ErrWrongEnvironment = errors.New("environment does not match lock generation")

// queryAttempts bounds the acquire/work/release cycles one query will
// drive before surfacing the blocking error.
const queryAttempts = 3

// Config tunes the coordination protocol. Zero values select defaults.
type Config struct {
	LockTTL     time.Duration // stale-at horizon for acquired locks
	SnapshotTTL time.Duration // expires-at horizon for cache generations
	Freshness   time.Duration // minimum remaining snapshot life on acquire
	WaitTimeout time.Duration // default listen window for lock changes
	PageSize    int64         // targets per reachable page
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 6 * time.Hour
	}
	if c.Freshness <= 0 {
		c.Freshness = time.Minute
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	return c
}

// Service is the coordination facade over the reachability cache: it
// mints lock identity, stamps generations with the current global
// version, publishes lock-state transitions, and self-heals corrupted
// units by evicting the generation.
type Service struct {
	cfg    Config
	store  reachstore.Store
	disc   *discover.Discoverer
	hub    *Hub
	pub    Publisher
	logger *slog.Logger
}

// NewService wires the facade. pub may be nil, in which case transitions
// fan out to the local hub only.
func NewService(cfg Config, store reachstore.Store, disc *discover.Discoverer, hub *Hub, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		store:  store,
		disc:   disc,
		hub:    hub,
		pub:    pub,
		logger: logger,
	}
}

// ReachablePage is one page of targets from a computed unit.
type ReachablePage struct {
	Targets    []string `json:"targets"`
	NextCursor uint64   `json:"next_cursor"`
}

// PathsPage is one window of a target's path list. Items include the
// terminal done marker, so a client paging through the list can detect
// the end without knowing the total up front.
type PathsPage struct {
	Items []types.PathItem `json:"items"`
	Total int64            `json:"total"`
}

// QueryResult is the drained reachable set for one source.
type QueryResult struct {
	Source   string   `json:"source"`
	Targets  []string `json:"targets"`
	MaxSteps int      `json:"max_steps"`
	Inverted bool     `json:"inverted"`
	Version  int64    `json:"version"`
}

// AcquireWriteLock takes the writer lock for the generation identified
// by the graph id, the environment fingerprint, and the current global
// version, initializing or replacing the cached snapshot as needed.
// Contention returns reachstore.ErrAlreadyLocked without blocking.
func (s *Service) AcquireWriteLock(ctx context.Context, graphID string, env types.Environment, now time.Time) (*reachstore.Acquired, error) {
	gen, err := s.generation(ctx, graphID, env)
	if err != nil {
		return nil, err
	}
	acq, err := s.store.AcquireWrite(ctx, gen, s.acquireParams(now))
	if err != nil {
		if errors.Is(err, reachstore.ErrAlreadyLocked) {
			metrics.LockContentionTotal.WithLabelValues(string(reachstore.LockKindWriter)).Inc()
		}
		return nil, err
	}
	metrics.LocksAcquiredTotal.WithLabelValues(string(reachstore.LockKindWriter), string(acq.Outcome)).Inc()
	s.publishState(ctx, gen, acq.State)
	return acq, nil
}

// AcquireReadLock takes a reader slot on a usable snapshot. Returns
// reachstore.ErrNotFound if no usable snapshot exists for the generation
// and reachstore.ErrAlreadyLocked while a writer holds it.
func (s *Service) AcquireReadLock(ctx context.Context, graphID string, env types.Environment, now time.Time) (*reachstore.Acquired, error) {
	gen, err := s.generation(ctx, graphID, env)
	if err != nil {
		return nil, err
	}
	acq, err := s.store.AcquireRead(ctx, gen, s.acquireParams(now))
	if err != nil {
		if errors.Is(err, reachstore.ErrAlreadyLocked) {
			metrics.LockContentionTotal.WithLabelValues(string(reachstore.LockKindReader)).Inc()
		}
		return nil, err
	}
	metrics.LocksAcquiredTotal.WithLabelValues(string(reachstore.LockKindReader), string(acq.Outcome)).Inc()
	s.publishState(ctx, gen, acq.State)
	return acq, nil
}

// ReleaseLock releases the holder's slot. The resulting lock state is
// published in every case, including reachstore.ErrNotHeld, so waiters
// observe the transition even when the holder had already lost the lock.
func (s *Service) ReleaseLock(ctx context.Context, lock *reachstore.Lock, now time.Time) (reachstore.LockState, error) {
	state, err := s.store.Release(ctx, lock, now)
	if err != nil && !errors.Is(err, reachstore.ErrNotHeld) {
		return state, err
	}
	s.publishState(ctx, lock.Generation, state)
	return state, err
}

// TransferReachable drives the discoverer into the cache under the given
// writer lock. The environment must belong to the lock's generation.
// Lock loss or corruption aborts the traversal and propagates.
func (s *Service) TransferReachable(ctx context.Context, lock *reachstore.Lock, env types.Environment, source string, maxSteps int, inverted bool, now time.Time) error {
	if lock.Kind != reachstore.LockKindWriter {
		return fmt.Errorf("transfer requires a writer lock: %w", reachstore.ErrNotHeld)
	}
	if env.Fingerprint() != lock.Generation.Fingerprint {
		return ErrWrongEnvironment
	}
	err := s.disc.Transfer(ctx, lock, env, source, maxSteps, inverted, now)
	return s.healCorruption(ctx, lock, err)
}

// ReadReachablePage scans one page of a computed unit's target set.
func (s *Service) ReadReachablePage(ctx context.Context, lock *reachstore.Lock, source string, maxSteps int, inverted bool, cursor uint64, now time.Time) (*ReachablePage, error) {
	unit := reachstore.Unit{DataID: lock.DataID, Source: source, MaxSteps: maxSteps, Inverted: inverted}
	targets, next, err := s.store.ReadTargets(ctx, lock, unit, cursor, s.cfg.PageSize, now)
	if err != nil {
		return nil, s.healCorruption(ctx, lock, err)
	}
	if targets == nil {
		targets = []string{}
	}
	return &ReachablePage{Targets: targets, NextCursor: next}, nil
}

// ReadPathsPage reads one window of the path list recorded for a target.
// A stored item that fails to decode is treated as corruption.
func (s *Service) ReadPathsPage(ctx context.Context, lock *reachstore.Lock, source, target string, maxSteps int, inverted bool, offset, limit int64, now time.Time) (*PathsPage, error) {
	unit := reachstore.Unit{DataID: lock.DataID, Source: source, MaxSteps: maxSteps, Inverted: inverted}
	raw, total, err := s.store.ReadPathItems(ctx, lock, unit, target, offset, limit, now)
	if err != nil {
		return nil, s.healCorruption(ctx, lock, err)
	}
	items := make([]types.PathItem, 0, len(raw))
	for _, r := range raw {
		item, err := types.DecodePathItem(r)
		if err != nil {
			derr := fmt.Errorf("path item for %q does not decode: %w", target, reachstore.ErrCorrupted)
			return nil, s.healCorruption(ctx, lock, derr)
		}
		items = append(items, item)
	}
	return &PathsPage{Items: items, Total: total}, nil
}

// ListenForLockChanged blocks until a matching lock-state transition is
// published for (graphID, version), the timeout elapses, or ctx is
// cancelled. timeout <= 0 selects the configured default.
func (s *Service) ListenForLockChanged(ctx context.Context, graphID string, version int64, filter Filter, timeout time.Duration) (LockChange, error) {
	if timeout <= 0 {
		timeout = s.cfg.WaitTimeout
	}
	start := time.Now()
	ev, err := s.hub.Wait(ctx, graphID, version, filter, timeout)
	result := "notified"
	if err != nil {
		result = "timeout"
	}
	metrics.LockWaitDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return ev, err
}

// Evict bumps the global version, making every outstanding generation
// unreachable. Old data expires by TTL; nothing is deleted here. scope
// names what triggered the eviction for the audit log.
func (s *Service) Evict(ctx context.Context, scope string) (int64, error) {
	version, err := s.store.BumpVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("bump cache version: %w", err)
	}
	metrics.EvictionsTotal.Inc()
	s.logger.Info("cache evicted", "scope", scope, "version", version)
	return version, nil
}

// Version reports the current global cache version.
func (s *Service) Version(ctx context.Context) (int64, error) {
	return s.store.CurrentVersion(ctx)
}

// QueryReachable answers "what is reachable from source" end to end: it
// reads an existing computed unit under a reader lock when possible,
// computes the unit under a writer lock when absent, waits out
// contention via the notifier, and restarts the cycle on lock loss.
// wait bounds each contention wait; zero means the configured default.
func (s *Service) QueryReachable(ctx context.Context, graphID string, env types.Environment, source string, maxSteps int, inverted bool, wait time.Duration, now time.Time) (*QueryResult, error) {
	var lastErr error
	for attempt := 0; attempt < queryAttempts; attempt++ {
		res, err := s.queryOnce(ctx, graphID, env, source, maxSteps, inverted, now)
		if err == nil {
			return res, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, reachstore.ErrAlreadyLocked):
			version, verr := s.store.CurrentVersion(ctx)
			if verr != nil {
				return nil, verr
			}
			if _, werr := s.ListenForLockChanged(ctx, graphID, version, FilterAny, wait); werr != nil {
				return nil, err
			}
		case errors.Is(err, reachstore.ErrLockLost):
			// Another actor deposed us or the version moved; start over.
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// Deletable reports whether no flow can reach slug for the environment,
// along with the flows that still can. A flow nothing reaches is safe to
// delete without dangling triggers.
func (s *Service) Deletable(ctx context.Context, graphID string, env types.Environment, slug string, now time.Time) (bool, []string, error) {
	res, err := s.QueryReachable(ctx, graphID, env, slug, 0, true, 0, now)
	if err != nil {
		return false, nil, err
	}
	return len(res.Targets) == 0, res.Targets, nil
}

func (s *Service) queryOnce(ctx context.Context, graphID string, env types.Environment, source string, maxSteps int, inverted bool, now time.Time) (*QueryResult, error) {
	acq, err := s.AcquireReadLock(ctx, graphID, env, now)
	switch {
	case err == nil:
		res, rerr := s.drainTargets(ctx, acq.Lock, source, maxSteps, inverted, now)
		s.releaseQuiet(ctx, acq.Lock, now)
		if rerr == nil {
			return res, nil
		}
		// A usable snapshot without this unit: fall through and compute
		// it under a writer lock over the same data id.
		if !errors.Is(rerr, reachstore.ErrNotInitialized) && !errors.Is(rerr, reachstore.ErrNotFound) {
			return nil, rerr
		}
	case errors.Is(err, reachstore.ErrNotFound):
	default:
		return nil, err
	}

	acq, err = s.AcquireWriteLock(ctx, graphID, env, now)
	if err != nil {
		return nil, err
	}
	defer s.releaseQuiet(ctx, acq.Lock, now)
	if err := s.TransferReachable(ctx, acq.Lock, env, source, maxSteps, inverted, now); err != nil {
		return nil, err
	}
	return s.drainTargets(ctx, acq.Lock, source, maxSteps, inverted, now)
}

// drainTargets pages through a unit's full target set.
func (s *Service) drainTargets(ctx context.Context, lock *reachstore.Lock, source string, maxSteps int, inverted bool, now time.Time) (*QueryResult, error) {
	targets := []string{}
	var cursor uint64
	for {
		page, err := s.ReadReachablePage(ctx, lock, source, maxSteps, inverted, cursor, now)
		if err != nil {
			return nil, err
		}
		targets = append(targets, page.Targets...)
		if page.NextCursor == 0 {
			break
		}
		cursor = page.NextCursor
	}
	sort.Strings(targets)
	return &QueryResult{
		Source:   source,
		Targets:  targets,
		MaxSteps: maxSteps,
		Inverted: inverted,
		Version:  lock.Generation.Version,
	}, nil
}

func (s *Service) releaseQuiet(ctx context.Context, lock *reachstore.Lock, now time.Time) {
	if _, err := s.ReleaseLock(ctx, lock, now); err != nil && !errors.Is(err, reachstore.ErrNotHeld) {
		s.logger.Warn("release lock",
			"graph_id", lock.Generation.GraphID,
			"lock_id", lock.ID,
			"error", err)
	}
}

func (s *Service) generation(ctx context.Context, graphID string, env types.Environment) (reachstore.Generation, error) {
	version, err := s.store.CurrentVersion(ctx)
	if err != nil {
		return reachstore.Generation{}, fmt.Errorf("read cache version: %w", err)
	}
	return reachstore.Generation{GraphID: graphID, Fingerprint: env.Fingerprint(), Version: version}, nil
}

func (s *Service) acquireParams(now time.Time) reachstore.AcquireParams {
	return reachstore.AcquireParams{
		Now:         now,
		Freshness:   s.cfg.Freshness,
		SnapshotTTL: s.cfg.SnapshotTTL,
		LockTTL:     s.cfg.LockTTL,
		LockID:      uuid.NewString(),
		DataID:      uuid.NewString(),
	}
}

// publishState fans a transition out after every acquire and release.
// With a Publisher configured, the event travels through Redis only and
// reaches the local hub via the notifier's subscription, keeping a
// single dispatch path; without one, it goes straight to the hub.
func (s *Service) publishState(ctx context.Context, gen reachstore.Generation, state reachstore.LockState) {
	ev := LockChange{
		GraphID:     gen.GraphID,
		Version:     gen.Version,
		Fingerprint: gen.Fingerprint,
		State:       state,
	}
	if s.pub != nil {
		if err := s.pub.PublishLockChange(ctx, ev); err != nil {
			s.logger.Warn("publish lock change", "graph_id", ev.GraphID, "error", err)
		}
		return
	}
	s.hub.Publish(ev)
}

// healCorruption converts a corruption signal into an eviction so the
// next access rebuilds the generation cleanly. The original error is
// returned either way; partial data is never served.
func (s *Service) healCorruption(ctx context.Context, lock *reachstore.Lock, err error) error {
	if err == nil || !errors.Is(err, reachstore.ErrCorrupted) {
		return err
	}
	metrics.CorruptionsTotal.Inc()
	s.logger.Error("cached unit corrupted, evicting generation",
		"graph_id", lock.Generation.GraphID,
		"version", lock.Generation.Version,
		"data_id", lock.DataID,
		"error", err)
	if _, everr := s.Evict(ctx, lock.Generation.GraphID); everr != nil {
		s.logger.Error("evict after corruption failed", "error", everr)
	}
	return err
}
