package reachstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flexinfer/flowreach/pkg/types"
)

// MemoryStore implements Store in process memory. It mirrors the Redis
// backend's semantics under one mutex, including logical expiry of
// snapshots and locks, for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	version int64
	gens    map[string]*memGeneration
	units   map[string]*memUnit
}

type memGeneration struct {
	dataID        string
	initializedAt time.Time
	expiresAt     time.Time
	writer        *memWriter
	readers       map[string]time.Time
}

type memWriter struct {
	lockID  string
	staleAt time.Time
}

type memUnit struct {
	targets map[string]struct{}
	sealed  bool
	paths   map[string][]string
}

// NewMemoryStore creates an empty in-memory store at version 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		version: 1,
		gens:    make(map[string]*memGeneration),
		units:   make(map[string]*memUnit),
	}
}

func genKey(gen Generation) string {
	return fmt.Sprintf("%s|%d|%s", gen.GraphID, gen.Version, gen.Fingerprint)
}

func unitKey(u Unit) string {
	return u.DataID + "|" + u.keySuffix()
}

// liveGen returns the generation if its snapshot has not expired yet,
// dropping it (and its cached units) when it has. Callers hold mu.
func (m *MemoryStore) liveGen(key string, now time.Time) *memGeneration {
	g, ok := m.gens[key]
	if !ok {
		return nil
	}
	if !g.expiresAt.After(now) {
		m.dropGeneration(key, g)
		return nil
	}
	return g
}

func (m *MemoryStore) dropGeneration(key string, g *memGeneration) {
	delete(m.gens, key)
	prefix := g.dataID + "|"
	for ukey := range m.units {
		if strings.HasPrefix(ukey, prefix) {
			delete(m.units, ukey)
		}
	}
}

func pruneLocks(g *memGeneration, now time.Time) {
	if g.writer != nil && !g.writer.staleAt.After(now) {
		g.writer = nil
	}
	for id, staleAt := range g.readers {
		if !staleAt.After(now) {
			delete(g.readers, id)
		}
	}
}

func (m *MemoryStore) CurrentVersion(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version < 1 {
		m.version = 1
	}
	return m.version, nil
}

func (m *MemoryStore) BumpVersion(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version < 1 {
		m.version = 1
	}
	m.version++
	return m.version, nil
}

func (m *MemoryStore) AcquireWrite(ctx context.Context, gen Generation, p AcquireParams) (*Acquired, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := genKey(gen)
	g := m.liveGen(key, p.Now)
	if g != nil {
		pruneLocks(g, p.Now)
		if g.writer != nil || len(g.readers) > 0 {
			return nil, ErrAlreadyLocked
		}
	}

	outcome := OutcomeExisting
	switch {
	case g == nil:
		outcome = OutcomeInitialized
	case g.expiresAt.Sub(p.Now) < p.Freshness:
		outcome = OutcomeReplacedStale
	}
	if outcome != OutcomeExisting {
		if g != nil {
			m.dropGeneration(key, g)
		}
		g = &memGeneration{
			dataID:        p.DataID,
			initializedAt: p.Now,
			expiresAt:     p.Now.Add(p.SnapshotTTL),
			readers:       make(map[string]time.Time),
		}
		m.gens[key] = g
	}

	g.writer = &memWriter{lockID: p.LockID, staleAt: p.Now.Add(p.LockTTL)}
	return &Acquired{
		Lock: &Lock{
			Generation: gen,
			DataID:     g.dataID,
			Kind:       LockKindWriter,
			ID:         p.LockID,
			AcquiredAt: p.Now,
			StaleAt:    p.Now.Add(p.LockTTL),
		},
		Outcome: outcome,
		State:   LockState{Readers: 0, Writer: true},
	}, nil
}

func (m *MemoryStore) AcquireRead(ctx context.Context, gen Generation, p AcquireParams) (*Acquired, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.liveGen(genKey(gen), p.Now)
	if g == nil {
		return nil, ErrNotFound
	}
	pruneLocks(g, p.Now)
	if g.expiresAt.Sub(p.Now) < p.Freshness {
		return nil, ErrNotFound
	}
	if g.writer != nil {
		return nil, ErrAlreadyLocked
	}

	g.readers[p.LockID] = p.Now.Add(p.LockTTL)
	return &Acquired{
		Lock: &Lock{
			Generation: gen,
			DataID:     g.dataID,
			Kind:       LockKindReader,
			ID:         p.LockID,
			AcquiredAt: p.Now,
			StaleAt:    p.Now.Add(p.LockTTL),
		},
		Outcome: OutcomeExisting,
		State:   LockState{Readers: int64(len(g.readers)), Writer: false},
	}, nil
}

func (m *MemoryStore) Release(ctx context.Context, lock *Lock, now time.Time) (LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.liveGen(genKey(lock.Generation), now)
	if g == nil {
		return LockState{}, ErrNotHeld
	}
	pruneLocks(g, now)

	held := false
	if lock.Kind == LockKindWriter {
		if g.writer != nil && g.writer.lockID == lock.ID {
			held = true
			g.writer = nil
		}
	} else {
		if _, ok := g.readers[lock.ID]; ok {
			held = true
			delete(g.readers, lock.ID)
		}
	}

	state := LockState{Readers: int64(len(g.readers)), Writer: g.writer != nil}
	if !held {
		return state, ErrNotHeld
	}
	return state, nil
}

// checkWriteOwnership verifies the version and the writer lock. Callers
// hold mu.
func (m *MemoryStore) checkWriteOwnership(lock *Lock, now time.Time) error {
	if m.version != lock.Generation.Version {
		return ErrLockLost
	}
	g := m.liveGen(genKey(lock.Generation), now)
	if g == nil {
		return ErrLockLost
	}
	if g.writer == nil || g.writer.lockID != lock.ID || !g.writer.staleAt.After(now) {
		return ErrLockLost
	}
	return nil
}

// checkReadOwnership verifies the version and whichever lock kind the
// caller holds. Callers hold mu.
func (m *MemoryStore) checkReadOwnership(lock *Lock, now time.Time) error {
	if m.version != lock.Generation.Version {
		return ErrLockLost
	}
	g := m.liveGen(genKey(lock.Generation), now)
	if g == nil {
		return ErrLockLost
	}
	if lock.Kind == LockKindWriter {
		if g.writer == nil || g.writer.lockID != lock.ID || !g.writer.staleAt.After(now) {
			return ErrLockLost
		}
		return nil
	}
	staleAt, ok := g.readers[lock.ID]
	if !ok || !staleAt.After(now) {
		return ErrLockLost
	}
	return nil
}

func (m *MemoryStore) WriteBatch(ctx context.Context, lock *Lock, unit Unit, first, last bool, entries []Entry, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkWriteOwnership(lock, now); err != nil {
		return err
	}

	key := unitKey(unit)
	u := m.units[key]
	if first || u == nil {
		u = &memUnit{
			targets: make(map[string]struct{}),
			paths:   make(map[string][]string),
		}
		m.units[key] = u
	}
	for _, e := range entries {
		u.targets[e.Target] = struct{}{}
		u.paths[e.Target] = append(u.paths[e.Target], e.Items...)
	}
	if last {
		u.sealed = true
	}
	return nil
}

func (m *MemoryStore) ReadTargets(ctx context.Context, lock *Lock, unit Unit, cursor uint64, count int64, now time.Time) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReadOwnership(lock, now); err != nil {
		return nil, 0, err
	}
	u := m.units[unitKey(unit)]
	if u == nil || !u.sealed {
		return nil, 0, ErrNotInitialized
	}
	if count <= 0 {
		count = 100
	}

	slugs := make([]string, 0, len(u.targets))
	for slug := range u.targets {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	start := int(cursor)
	if start >= len(slugs) {
		return []string{}, 0, nil
	}
	end := start + int(count)
	if end > len(slugs) {
		end = len(slugs)
	}
	page := make([]string, 0, end-start)
	for _, slug := range slugs[start:end] {
		items := u.paths[slug]
		if len(items) == 0 || items[len(items)-1] != types.DoneMarker {
			return nil, 0, ErrCorrupted
		}
		page = append(page, slug)
	}
	next := uint64(end)
	if end == len(slugs) {
		next = 0
	}
	return page, next, nil
}

func (m *MemoryStore) ReadPathItems(ctx context.Context, lock *Lock, unit Unit, target string, offset, limit int64, now time.Time) ([]string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReadOwnership(lock, now); err != nil {
		return nil, 0, err
	}
	u := m.units[unitKey(unit)]
	if u == nil || !u.sealed {
		return nil, 0, ErrNotFound
	}
	if _, ok := u.targets[target]; !ok {
		return nil, 0, ErrNoPaths
	}
	items := u.paths[target]
	if len(items) == 0 || items[len(items)-1] != types.DoneMarker {
		return nil, 0, ErrCorrupted
	}

	total := int64(len(items))
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []string{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := make([]string, end-offset)
	copy(page, items[offset:end])
	return page, total, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
