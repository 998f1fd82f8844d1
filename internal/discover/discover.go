// Package discover populates the reachability cache by breadth-first
// traversal of the flow graph. All cache writes happen under the
// caller's writer lock; lock loss or corruption reported by the store
// aborts the traversal and propagates unchanged.
package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flexinfer/flowreach/internal/flowstore"
	"github.com/flexinfer/flowreach/internal/metrics"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/internal/rules"
	"github.com/flexinfer/flowreach/pkg/types"
)

// Edge is one directly traversable hop out of a flow.
type Edge struct {
	Target string
	Via    types.Via
}

// Discoverer computes reachability units from flow definitions and
// streams them into the cache.
type Discoverer struct {
	flows  flowstore.Source
	eval   rules.Evaluator
	store  reachstore.Store
	batch  int
	scan   int64
	logger *slog.Logger
}

// New creates a discoverer. batchSize bounds entries per cache write;
// scanCount bounds targets per cache read page.
func New(flows flowstore.Source, eval rules.Evaluator, store reachstore.Store, batchSize int, scanCount int64, logger *slog.Logger) *Discoverer {
	if batchSize <= 0 {
		batchSize = 64
	}
	if scanCount <= 0 {
		scanCount = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		flows:  flows,
		eval:   eval,
		store:  store,
		batch:  batchSize,
		scan:   scanCount,
		logger: logger,
	}
}

// Transfer computes one reachability unit and writes it into the cache:
// every flow reachable from source within maxSteps hops (0 = unlimited),
// with one representative path per target. Inverted units answer "what
// reaches source" with paths reported in the forward direction. The unit
// is recomputed from scratch; single-step adjacency consulted along the
// way is reused from cache when present and populated when not.
func (d *Discoverer) Transfer(ctx context.Context, lock *reachstore.Lock, env types.Environment, source string, maxSteps int, inverted bool, now time.Time) error {
	direction := "forward"
	if inverted {
		direction = "inverted"
	}
	start := time.Now()
	defer func() {
		metrics.DiscoveryDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}()

	r := &run{
		d:       d,
		lock:    lock,
		env:     env,
		now:     now,
		flows:   make(map[string]*types.Flow),
		screens: make(map[string]*types.Screen),
		fields:  make(map[string][]triggerField),
	}
	unit := reachstore.Unit{DataID: lock.DataID, Source: source, MaxSteps: maxSteps, Inverted: inverted}

	var targets int
	var err error
	switch {
	case maxSteps == 1 && !inverted:
		targets, err = r.transferSingleForward(ctx, unit)
	case maxSteps == 1 && inverted:
		targets, err = r.transferSingleInverted(ctx, unit)
	case !inverted:
		targets, err = r.transferMultiForward(ctx, unit)
	default:
		targets, err = r.transferMultiInverted(ctx, unit)
	}
	if err != nil {
		return err
	}

	metrics.DiscoveryTargetsFound.Observe(float64(targets))
	d.logger.Debug("reachability transferred",
		"source", source,
		"max_steps", maxSteps,
		"inverted", inverted,
		"targets", targets)
	return nil
}

// run carries per-transfer memoization of flow and screen lookups.
type run struct {
	d       *Discoverer
	lock    *reachstore.Lock
	env     types.Environment
	now     time.Time
	flows   map[string]*types.Flow
	screens map[string]*types.Screen
	fields  map[string][]triggerField
}

// hop is one BFS queue element: the frontier slug and the path that
// first reached it.
type hop struct {
	slug string
	path []types.PathNode
}

func (r *run) transferSingleForward(ctx context.Context, unit reachstore.Unit) (int, error) {
	edges, err := r.sourceAdjacency(ctx, unit.Source)
	if err != nil {
		return 0, err
	}
	w := newBatchWriter(r.d.store, r.lock, unit, r.d.batch, r.now)
	for _, e := range edges {
		item, err := encodePath([]types.PathNode{types.EdgeNode(e.Target, e.Via)})
		if err != nil {
			return 0, err
		}
		if err := w.add(ctx, e.Target, item); err != nil {
			return 0, err
		}
	}
	return w.count(), w.seal(ctx)
}

// transferSingleInverted scans forward adjacency of every flow and keeps
// the direct predecessors of the unit source. There is no reverse index
// in the flow store; the scan populates the forward cache as a side
// effect, so the cost is paid once per generation.
func (r *run) transferSingleInverted(ctx context.Context, unit reachstore.Unit) (int, error) {
	slugs, err := r.d.flows.ListFlowSlugs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list flows: %w", err)
	}
	w := newBatchWriter(r.d.store, r.lock, unit, r.d.batch, r.now)
	for _, slug := range slugs {
		edges, err := r.adjacency(ctx, slug)
		if err != nil {
			return 0, err
		}
		for _, e := range edges {
			if e.Target != unit.Source {
				continue
			}
			item, err := encodePath([]types.PathNode{types.EdgeNode(unit.Source, e.Via)})
			if err != nil {
				return 0, err
			}
			if err := w.add(ctx, slug, item); err != nil {
				return 0, err
			}
		}
	}
	return w.count(), w.seal(ctx)
}

// transferMultiForward walks breadth-first from the source. A target is
// emitted the first time it is discovered; rediscoveries are suppressed,
// which also drops any hop landing on a flow already on the path. The
// source itself is never emitted, so a flow whose only route to itself
// is a self-edge appears in its single-step unit but not here.
func (r *run) transferMultiForward(ctx context.Context, unit reachstore.Unit) (int, error) {
	w := newBatchWriter(r.d.store, r.lock, unit, r.d.batch, r.now)
	seen := map[string]bool{unit.Source: true}
	queue := []hop{{slug: unit.Source}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if unit.MaxSteps > 0 && len(cur.path) >= unit.MaxSteps {
			continue
		}
		edges, err := r.adjacency(ctx, cur.slug)
		if err != nil {
			return 0, err
		}
		for _, e := range edges {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true

			path := make([]types.PathNode, len(cur.path)+1)
			copy(path, cur.path)
			path[len(cur.path)] = types.EdgeNode(e.Target, e.Via)

			item, err := encodePath(path)
			if err != nil {
				return 0, err
			}
			if err := w.add(ctx, e.Target, item); err != nil {
				return 0, err
			}
			queue = append(queue, hop{slug: e.Target, path: path})
		}
	}
	return w.count(), w.seal(ctx)
}

// transferMultiInverted inverts the full forward adjacency in memory and
// walks breadth-first over incoming edges. Paths are assembled in the
// forward direction: each discovered predecessor's path starts with its
// own outgoing hop and ends at the unit source.
func (r *run) transferMultiInverted(ctx context.Context, unit reachstore.Unit) (int, error) {
	slugs, err := r.d.flows.ListFlowSlugs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list flows: %w", err)
	}

	type inEdge struct {
		from string
		via  types.Via
	}
	preds := make(map[string][]inEdge)
	for _, slug := range slugs {
		edges, err := r.adjacency(ctx, slug)
		if err != nil {
			return 0, err
		}
		for _, e := range edges {
			preds[e.Target] = append(preds[e.Target], inEdge{from: slug, via: e.Via})
		}
	}

	w := newBatchWriter(r.d.store, r.lock, unit, r.d.batch, r.now)
	seen := map[string]bool{unit.Source: true}
	queue := []hop{{slug: unit.Source}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if unit.MaxSteps > 0 && len(cur.path) >= unit.MaxSteps {
			continue
		}
		for _, in := range preds[cur.slug] {
			if seen[in.from] {
				continue
			}
			seen[in.from] = true

			path := make([]types.PathNode, len(cur.path)+1)
			path[0] = types.EdgeNode(cur.slug, in.via)
			copy(path[1:], cur.path)

			item, err := encodePath(path)
			if err != nil {
				return 0, err
			}
			if err := w.add(ctx, in.from, item); err != nil {
				return 0, err
			}
			queue = append(queue, hop{slug: in.from, path: path})
		}
	}
	return w.count(), w.seal(ctx)
}

// adjacency returns the single-step forward edges of slug, reading the
// cached unit when it exists and computing plus caching it when not.
func (r *run) adjacency(ctx context.Context, slug string) ([]Edge, error) {
	unit := reachstore.Unit{DataID: r.lock.DataID, Source: slug, MaxSteps: 1}
	edges, err := r.readAdjacency(ctx, unit)
	if err == nil {
		return edges, nil
	}
	if !errors.Is(err, reachstore.ErrNotInitialized) {
		return nil, err
	}
	edges, err = r.sourceAdjacency(ctx, slug)
	if err != nil {
		return nil, err
	}
	w := newBatchWriter(r.d.store, r.lock, unit, r.d.batch, r.now)
	for _, e := range edges {
		item, err := encodePath([]types.PathNode{types.EdgeNode(e.Target, e.Via)})
		if err != nil {
			return nil, err
		}
		if err := w.add(ctx, e.Target, item); err != nil {
			return nil, err
		}
	}
	if err := w.seal(ctx); err != nil {
		return nil, err
	}
	return edges, nil
}

// readAdjacency reconstructs an edge list from a cached single-step
// unit. The via of each edge is taken from the target's first path item.
func (r *run) readAdjacency(ctx context.Context, unit reachstore.Unit) ([]Edge, error) {
	var edges []Edge
	var cursor uint64
	for {
		page, next, err := r.d.store.ReadTargets(ctx, r.lock, unit, cursor, r.d.scan, r.now)
		if err != nil {
			return nil, err
		}
		for _, target := range page {
			items, _, err := r.d.store.ReadPathItems(ctx, r.lock, unit, target, 0, 1, r.now)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, fmt.Errorf("target %q has an empty path list: %w", target, reachstore.ErrCorrupted)
			}
			item, err := types.DecodePathItem(items[0])
			if err != nil || item.IsDone() || len(item.Nodes) == 0 {
				return nil, fmt.Errorf("target %q has a malformed first path item: %w", target, reachstore.ErrCorrupted)
			}
			edges = append(edges, Edge{Target: target, Via: item.Nodes[0].Via})
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return edges, nil
}

func encodePath(nodes []types.PathNode) (string, error) {
	return types.NewPathItem(nodes).Encode()
}
