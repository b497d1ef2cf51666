// Package ingest implements a dispatch and worker-pool engine for
// high-throughput batched upserts against a single destination database.
//
// Producers push heterogeneous row vectors onto one inbound channel. The
// engine buffers them per destination table, splits each flushed bucket
// into sub-vectors sized along a fixed arity ladder (1 through 10, and
// 100), and routes each sub-vector to a dynamically scaled pool of
// per-connection workers, one pool per arity tier.
package ingest
