package ingest

import (
	"sort"

	"go.uber.org/zap"
)

// rebalance runs after every ingress iteration (spec §4.7): prune dead
// workers from every tier, then retire idle surplus back toward baseline.
func (e *Engine[T]) rebalance() {
	changed := false
	for _, arity := range ladder {
		t := e.tiers[arity]
		if e.pruneTier(t) {
			changed = true
		}
		if e.retireSurplus(t) {
			changed = true
		}
	}

	if changed || e.cfg.PrintConnectionConfiguration {
		e.printSenderStatus()
	}
}

// pruneTier removes handles whose worker has already exited, decrementing
// the shared worker count by however many were removed.
func (e *Engine[T]) pruneTier(t *tier[T]) bool {
	alive := t.handles[:0]
	removed := 0
	for _, h := range t.handles {
		if h.dead() {
			removed++
			continue
		}
		alive = append(alive, h)
	}
	t.handles = alive

	if removed > 0 {
		e.totalWorkers.Sub(int64(removed))
		e.logger.Info("pruned dead workers", zap.Int("tier", t.arity), zap.Int("removed", removed))
		return true
	}
	return false
}

// retireSurplus closes up to ceil(full/2) fully-idle workers above
// baseline, picking the most idle (highest free capacity) victims first,
// and never dropping the tier below its baseline.
func (e *Engine[T]) retireSurplus(t *tier[T]) bool {
	if len(t.handles) <= t.baseline {
		return false
	}

	full := 0
	for _, h := range t.handles {
		if h.freeCapacity() == cap(h.ch) {
			full++
		}
	}
	if full == 0 {
		return false
	}

	toRemove := full - full/2 // ceil(full/2)
	if len(t.handles)-toRemove < t.baseline {
		toRemove = len(t.handles) - t.baseline
	}
	if toRemove <= 0 {
		return false
	}

	sort.Slice(t.handles, func(i, j int) bool {
		return t.handles[i].freeCapacity() < t.handles[j].freeCapacity()
	})
	for i := 0; i < toRemove; i++ {
		victim := t.handles[len(t.handles)-1]
		victim.closeChan()
		t.handles = t.handles[:len(t.handles)-1]
		e.totalWorkers.Sub(1)
	}

	e.logger.Info("retired idle workers", zap.Int("tier", t.arity), zap.Int("retired", toRemove))
	return true
}
