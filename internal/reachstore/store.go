// Package reachstore provides versioned storage for cached reachability
// data, guarded by reader/writer locks scoped to one cache generation.
//
// Lock state, snapshot metadata, and cached units are mutated in single
// atomic round trips against the backing store. There is deliberately no
// client-side check-then-act: the freshness check, the lock grant, and the
// ownership re-check on every write and read happen inside one server-side
// operation so no other actor can interleave.
package reachstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flexinfer/flowreach/pkg/types"
)

// Common errors returned by Store implementations.
var (
	// ErrAlreadyLocked reports lock contention. Never retried automatically;
	// callers fail fast or wait for a lock-change notification.
	ErrAlreadyLocked = errors.New("already locked")

	// ErrNotFound reports that no usable cached snapshot exists for the
	// generation (or, on path reads, for the unit).
	ErrNotFound = errors.New("snapshot not found")

	// ErrNotHeld reports a release of a lock that expired or was never
	// held. The caller must not assume any remaining exclusivity.
	ErrNotHeld = errors.New("lock not held")

	// ErrLockLost reports that a previously held lock was found not to be
	// held during a write or read. The correct response is to restart the
	// whole acquire, work, release cycle.
	ErrLockLost = errors.New("lock lost")

	// ErrNotInitialized reports a reachable-page read against a unit that
	// was never fully written.
	ErrNotInitialized = errors.New("unit not initialized")

	// ErrNoPaths reports a path read for a target that is not reachable
	// from the unit's source.
	ErrNoPaths = errors.New("no paths to target")

	// ErrCorrupted reports a unit whose invariants (sentinel-terminated
	// path list, consistent set membership) did not hold. Partial data is
	// never returned; the caller should evict and recompute.
	ErrCorrupted = errors.New("cached unit corrupted")
)

// computedSentinel marks a unit's target set as fully written. It is the
// single bit a reader checks to decide whether the unit is complete.
const computedSentinel = "__computed__"

// LockKind distinguishes reader and writer locks.
type LockKind string

const (
	LockKindReader LockKind = "reader"
	LockKindWriter LockKind = "writer"
)

// AcquireOutcome tags how an acquire succeeded.
type AcquireOutcome string

const (
	// OutcomeInitialized means the acquire minted a brand-new snapshot.
	OutcomeInitialized AcquireOutcome = "initialized"
	// OutcomeReplacedStale means an existing snapshot expired too soon and
	// was replaced by a fresh one.
	OutcomeReplacedStale AcquireOutcome = "replaced_stale"
	// OutcomeExisting means the lock was taken over an already usable
	// snapshot.
	OutcomeExisting AcquireOutcome = "existing"
)

// Generation identifies one cache snapshot namespace: a graph, an
// environment fingerprint, and the global version at acquire time. Bumping
// the global version makes every generation minted before it unreachable.
type Generation struct {
	GraphID     string            `json:"graph_id"`
	Fingerprint types.Fingerprint `json:"fingerprint"`
	Version     int64             `json:"version"`
}

// Lock is a held reader or writer lock on one generation.
type Lock struct {
	Generation Generation `json:"generation"`
	DataID     string     `json:"data_id"`
	Kind       LockKind   `json:"kind"`
	ID         string     `json:"id"`
	AcquiredAt time.Time  `json:"acquired_at"`
	StaleAt    time.Time  `json:"stale_at"`
}

// LockState is the externally observable lock state of a generation,
// published to waiters after every acquire and release.
type LockState struct {
	Readers int64 `json:"readers"`
	Writer  bool  `json:"writer"`
}

// AcquireParams carries the inputs of a lock acquisition. Time is explicit
// so callers control staleness decisions deterministically.
type AcquireParams struct {
	// Now is the current time used for every staleness comparison.
	Now time.Time

	// Freshness is the minimum remaining snapshot life required. A
	// snapshot expiring sooner is treated as stale (writers replace it,
	// readers report not found).
	Freshness time.Duration

	// SnapshotTTL is the expires_at horizon applied when a writer
	// initializes or replaces a snapshot.
	SnapshotTTL time.Duration

	// LockTTL bounds how long an unreleased lock stays live. It should
	// not exceed Freshness, so a live lock implies a live snapshot.
	LockTTL time.Duration

	// LockID is the caller-minted identifier of the lock instance.
	LockID string

	// DataID is the caller-minted snapshot identifier, used only when the
	// acquire initializes or replaces a snapshot.
	DataID string
}

// Acquired is the result of a successful lock acquisition: the held lock,
// how the acquire succeeded, and the generation's lock state afterwards.
type Acquired struct {
	Lock    *Lock
	Outcome AcquireOutcome
	State   LockState
}

// Unit addresses the smallest independently written and read cache
// payload: all paths from one source flow, in one direction, under one
// step limit.
type Unit struct {
	DataID   string
	Source   string
	MaxSteps int // 0 = unlimited
	Inverted bool
}

// keySuffix renders the unit's direction, step limit, and source as a
// stable key fragment shared by both backends.
func (u Unit) keySuffix() string {
	dir := "fwd"
	if u.Inverted {
		dir = "rev"
	}
	steps := "all"
	if u.MaxSteps > 0 {
		steps = strconv.Itoa(u.MaxSteps)
	}
	return fmt.Sprintf("%s:%s:%s", dir, steps, u.Source)
}

// Entry is one target's contribution to a batch write: the target slug and
// the serialized path items to append to its list.
type Entry struct {
	Target string   `json:"target"`
	Items  []string `json:"items"`
}

// Store is the coordination and cache layer for reachability analysis.
// Implementations must be safe for concurrent use across processes.
type Store interface {
	// CurrentVersion returns the global cache version. The counter starts
	// at 1 when nothing was ever evicted.
	CurrentVersion(ctx context.Context) (int64, error)

	// BumpVersion advances the global version, making every outstanding
	// generation logically unreachable, and returns the new version.
	BumpVersion(ctx context.Context) (int64, error)

	// AcquireWrite takes the writer lock on a generation. If no usable
	// snapshot exists (absent, or expiring within p.Freshness) it mints
	// one from p.DataID in the same atomic step. Returns ErrAlreadyLocked
	// while any live reader or writer holds the generation.
	AcquireWrite(ctx context.Context, gen Generation, p AcquireParams) (*Acquired, error)

	// AcquireRead takes a reader slot on a generation. Never initializes:
	// returns ErrNotFound without a usable snapshot and ErrAlreadyLocked
	// while a live writer holds the generation.
	AcquireRead(ctx context.Context, gen Generation, p AcquireParams) (*Acquired, error)

	// Release drops lock ownership, identified by (generation, lock id).
	// Idempotent; returns ErrNotHeld when the lock expired or was never
	// held. The returned LockState reflects the generation after the
	// release and is valid even alongside ErrNotHeld, so callers can
	// always publish it.
	Release(ctx context.Context, lock *Lock, now time.Time) (LockState, error)

	// WriteBatch appends entries to a unit under the writer lock, whose
	// ownership is re-verified inside the same atomic operation; if it was
	// lost nothing is mutated and ErrLockLost is returned. first clears
	// any prior (possibly partial) data for the unit; last marks the unit
	// complete. All touched keys inherit the generation's expiry.
	WriteBatch(ctx context.Context, lock *Lock, unit Unit, first, last bool, entries []Entry, now time.Time) error

	// ReadTargets pages through a completed unit's reachable targets.
	// Returns ErrNotInitialized if the unit was never marked complete and
	// ErrCorrupted if any scanned target's path list is not terminated by
	// the done marker. A zero next cursor ends the scan.
	ReadTargets(ctx context.Context, lock *Lock, unit Unit, cursor uint64, count int64, now time.Time) ([]string, uint64, error)

	// ReadPathItems returns a page of a target's serialized path items
	// plus the total list length. Returns ErrNotFound if the unit was
	// never marked complete, ErrNoPaths if the target is not reachable,
	// and ErrCorrupted if the list is not terminated by the done marker.
	// A non-positive limit returns the remainder of the list.
	ReadPathItems(ctx context.Context, lock *Lock, unit Unit, target string, offset, limit int64, now time.Time) ([]string, int64, error)

	// Close releases any resources.
	Close() error
}
