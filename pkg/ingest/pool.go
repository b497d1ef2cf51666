package ingest

import "go.uber.org/atomic"

// workerHandle is the engine's record of one worker's task: the channel
// used to push it sub-vectors, plus the liveness flags the rebalancer
// inspects. Only the ingress loop ever mutates a workerHandle's owning
// tier list — workers themselves only ever set finished on their own exit.
type workerHandle[T Row[T]] struct {
	id       int64
	tier     int
	ch       chan []T
	closed   atomic.Bool
	finished atomic.Bool
}

// freeCapacity returns the number of sub-vectors this worker's channel
// could still accept without blocking.
func (h *workerHandle[T]) freeCapacity() int {
	return cap(h.ch) - len(h.ch)
}

// closeChan closes the inbound channel exactly once, signalling the worker
// to exit at its next select tick.
func (h *workerHandle[T]) closeChan() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.ch)
	}
}

// dead reports whether this handle's worker has exited, either because its
// channel was closed or because its task loop returned on its own (e.g.
// after an execute failure).
func (h *workerHandle[T]) dead() bool {
	return h.closed.Load() || h.finished.Load()
}

// tier is the per-arity worker pool: a baseline floor the rebalancer will
// not retire below, and the live ordered list of handles currently serving
// that arity.
type tier[T Row[T]] struct {
	arity    int
	baseline int
	handles  []*workerHandle[T]
}
