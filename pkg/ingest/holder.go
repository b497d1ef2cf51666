package ingest

// batchHolder accumulates pushed rows per destination table, flushing a
// table's bucket once it reaches a caller-supplied threshold. The engine
// keeps one instance for its whole lifetime rather than rebuilding it every
// ingress iteration, but Engine.process/lagWindow always drain it back to
// empty before an iteration ends, so no table's leftover rows can ever sit
// past the iteration that received them — see engine.go's process.
type batchHolder[T Row[T]] struct {
	buckets map[string][]T
}

func newBatchHolder[T Row[T]]() *batchHolder[T] {
	return &batchHolder[T]{buckets: make(map[string][]T)}
}

// AddAll appends every row in incoming to its table's bucket, then flushes
// (removes and returns) every bucket whose length has reached threshold.
// Comparison is "len >= threshold", so a bucket exactly at threshold
// flushes.
func (h *batchHolder[T]) AddAll(incoming []T, threshold int) map[string][]T {
	for _, row := range incoming {
		table := row.Table()
		h.buckets[table] = append(h.buckets[table], row)
	}

	var flushed map[string][]T
	for table, rows := range h.buckets {
		if len(rows) >= threshold {
			if flushed == nil {
				flushed = make(map[string][]T)
			}
			flushed[table] = rows
			delete(h.buckets, table)
		}
	}
	return flushed
}

// Len returns the total row count across all buckets currently held.
func (h *batchHolder[T]) Len() int {
	total := 0
	for _, rows := range h.buckets {
		total += len(rows)
	}
	return total
}

// GetAll drains every remaining bucket, leaving the holder empty.
func (h *batchHolder[T]) GetAll() map[string][]T {
	all := h.buckets
	h.buckets = make(map[string][]T)
	return all
}
