package ingest

import (
	"context"
	"time"
)

// PreparedStatement is the opaque handle the engine hands back to a Row's
// Upsert method. It is produced once per (table, arity) pair at worker
// startup and reused for every batch that worker processes.
type PreparedStatement struct {
	// Name is the statement name Registry.Prepare assigns
	// ("<table>_arity_<n>") and passes to WorkerConn.Prepare.
	Name string
	// SQL is the template this statement was prepared from. A WorkerConn
	// may execute by this text rather than by Name (internal/pgconn does).
	SQL string
	// Arity is the batch size this statement was prepared for.
	Arity int
}

// Conn is the capability surface the engine exposes to a Row's Upsert
// method: one round-trip execution of a prepared statement against bound
// parameters. It intentionally knows nothing about connection lifecycle or
// statement preparation — those are the engine's job, not the row type's.
type Conn interface {
	Exec(ctx context.Context, stmt *PreparedStatement, args ...any) (int64, error)
}

// WorkerConn is the full capability a worker needs from the database
// driver: Conn to run upserts, Prepare to build its statement set at
// startup, and Close for clean shutdown.
type WorkerConn interface {
	Conn
	Prepare(ctx context.Context, name, sql string) (*PreparedStatement, error)
	Close(ctx context.Context) error
}

// Connector acquires one WorkerConn per call. Each worker owns exactly one
// connection for its lifetime; the engine never shares a connection across
// workers.
type Connector interface {
	Connect(ctx context.Context) (WorkerConn, error)
}

// Row is the contract a row type T must satisfy to flow through the
// engine. Implementations are expected to be cheap to copy (the engine
// passes rows by value inside slices) and must return a stable table name
// for the lifetime of the row — every row pushed together in one
// sub-vector is assumed to share the same table.
//
// Upsert is invoked with exactly the statement that was prepared for
// (Table(), len(rows)); binding parameters in the order the SQL expects is
// the row type's responsibility.
type Row[T any] interface {
	Table() string
	PKey() int64
	ModifiedDate() time.Time
	Upsert(ctx context.Context, conn Conn, rows []T, stmt *PreparedStatement, workerID int64) (int64, error)
}
