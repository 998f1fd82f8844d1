package discover

import (
	"context"
	"time"

	"github.com/flexinfer/flowreach/internal/metrics"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/pkg/types"
)

// batchWriter frames discovered paths into first/last-marked batches. The
// first flush resets the unit, intermediate flushes append, and seal
// writes every discovered target's done marker before closing the unit
// with the last flag.
type batchWriter struct {
	store   reachstore.Store
	lock    *reachstore.Lock
	unit    reachstore.Unit
	now     time.Time
	size    int
	entries []reachstore.Entry
	wrote   bool
	order   []string
}

func newBatchWriter(store reachstore.Store, lock *reachstore.Lock, unit reachstore.Unit, size int, now time.Time) *batchWriter {
	if size <= 0 {
		size = 64
	}
	return &batchWriter{store: store, lock: lock, unit: unit, now: now, size: size}
}

// add records one discovered path for target. Callers add each target at
// most once.
func (w *batchWriter) add(ctx context.Context, target, item string) error {
	w.order = append(w.order, target)
	return w.append(ctx, reachstore.Entry{Target: target, Items: []string{item}})
}

func (w *batchWriter) append(ctx context.Context, e reachstore.Entry) error {
	w.entries = append(w.entries, e)
	if len(w.entries) >= w.size {
		return w.flush(ctx, false)
	}
	return nil
}

func (w *batchWriter) flush(ctx context.Context, last bool) error {
	if len(w.entries) == 0 && !last {
		return nil
	}
	first := !w.wrote
	if err := w.store.WriteBatch(ctx, w.lock, w.unit, first, last, w.entries, w.now); err != nil {
		return err
	}
	metrics.BatchesWrittenTotal.Inc()
	metrics.EntriesWrittenTotal.Add(float64(len(w.entries)))
	w.wrote = true
	w.entries = w.entries[:0]
	return nil
}

// seal appends the done markers and closes the unit. A unit with zero
// discovered targets still gets its sealing write, so readers see an
// initialized empty set rather than a missing one.
func (w *batchWriter) seal(ctx context.Context) error {
	for _, target := range w.order {
		if err := w.append(ctx, reachstore.Entry{Target: target, Items: []string{types.DoneMarker}}); err != nil {
			return err
		}
	}
	return w.flush(ctx, true)
}

func (w *batchWriter) count() int { return len(w.order) }
