package ingest

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// dispatchRows splits rows (all belonging to table) along the arity ladder
// and routes each resulting sub-vector independently.
func (e *Engine[T]) dispatchRows(ctx context.Context, table string, rows []T) {
	for _, sub := range splitRows(rows) {
		e.dispatch(ctx, table, sub)
	}
}

// dispatch implements spec §4.5's routing algorithm for one sub-vector:
// locate its tier, pick the worker with the most free channel capacity,
// and either enqueue directly, scale up, or block under backpressure.
func (e *Engine[T]) dispatch(ctx context.Context, table string, sub []T) {
	k := len(sub)
	t, ok := e.tiers[k]
	if !ok {
		panic(fmt.Sprintf("dispatch invariant violated: no tier configured for arity %d", k))
	}

	e.logger.Debug("routing sub-vector", zap.String("table", table), zap.Int("arity", k))

	if len(t.handles) == 0 {
		if e.totalWorkers.Load() >= int64(e.cfg.MaxConnections) {
			panic(fmt.Sprintf("dispatch invariant violated: tier %d has no workers and the connection ceiling (%d) is already reached", k, e.cfg.MaxConnections))
		}
		e.spawnAndSend(ctx, t, sub)
		return
	}

	sort.Slice(t.handles, func(i, j int) bool {
		return t.handles[i].freeCapacity() > t.handles[j].freeCapacity()
	})
	head := t.handles[0]
	capacityPct := float64(head.freeCapacity()) / float64(e.cfg.BufferSize) * 100

	switch {
	case capacityPct > e.cfg.ConnectionCreationThreshold:
		head.ch <- sub

	case e.totalWorkers.Load() < int64(e.cfg.MaxConnections):
		e.logger.Warn("capacity below creation threshold, scaling up",
			zap.Int("tier", k), zap.Float64("capacity_pct", capacityPct),
			zap.Float64("threshold_pct", e.cfg.ConnectionCreationThreshold))
		e.spawnAndSend(ctx, t, sub)

	default:
		e.logger.Warn("capacity limited and connection ceiling reached, blocking",
			zap.Int("tier", k), zap.Int64("total_workers", e.totalWorkers.Load()),
			zap.Int("max_connections", e.cfg.MaxConnections))
		head.ch <- sub
	}
}

// spawnAndSend creates a new worker for tier t, sends sub as its first
// batch, then registers the handle and bumps the worker count — in that
// order, matching spec §4.5 step 5.
func (e *Engine[T]) spawnAndSend(ctx context.Context, t *tier[T], sub []T) {
	h := e.spawnWorker(ctx, t.arity)
	h.ch <- sub
	t.handles = append(t.handles, h)
	e.totalWorkers.Add(1)

	if e.totalWorkers.Load() == int64(e.cfg.MaxConnections) {
		e.logger.Warn("max connection count reached", zap.Int64("total_workers", e.totalWorkers.Load()))
	}
}

// spawnWorker allocates a fresh inbound channel and worker id, launches the
// worker's task, and returns its handle. The handle is not yet attached to
// any tier list — callers are responsible for that.
func (e *Engine[T]) spawnWorker(ctx context.Context, arity int) *workerHandle[T] {
	id := e.nextWorkerID.Add(1)
	h := &workerHandle[T]{
		id:   id,
		tier: arity,
		ch:   make(chan []T, e.cfg.BufferSize),
	}
	e.wg.Go(func() {
		e.runWorker(ctx, h)
	})
	return h
}
