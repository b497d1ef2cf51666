package ingest

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Registry is the two-level query lookup: destination table name to batch
// arity to SQL template. It is built once by the caller and is immutable
// for the lifetime of the engine — workers only ever read from it.
type Registry map[string]map[int]string

// Prepare builds the statement set for one arity tier across every table
// in the registry, preparing each against conn and returning a lookup keyed
// by table name. A worker in tier k calls this once at startup with its
// own fixed arity; the resulting map lets it serve any table that happens
// to route a k-sized sub-vector to it.
//
// Preparation failure for any (table, arity) pair is fatal to the caller —
// Prepare returns an error, and worker startup treats that as a
// preparation fault (see the engine's worker loop).
func (r Registry) Prepare(ctx context.Context, conn WorkerConn, arity int) (map[string]*PreparedStatement, error) {
	out := make(map[string]*PreparedStatement, len(r))
	for table, byArity := range r {
		sql, ok := byArity[arity]
		if !ok {
			return nil, errors.Errorf("query registry: table %q has no template for arity %d", table, arity)
		}
		name := fmt.Sprintf("%s_arity_%d", table, arity)
		stmt, err := conn.Prepare(ctx, name, sql)
		if err != nil {
			return nil, errors.Wrapf(err, "prepare table=%s arity=%d", table, arity)
		}
		stmt.Arity = arity
		out[table] = stmt
	}
	return out, nil
}

// Tables returns the set of destination tables known to the registry. The
// dispatcher never calls this — routing is table-blind — but it is useful
// for validating that a registry covers every table a caller intends to
// push rows for.
func (r Registry) Tables() []string {
	tables := make([]string, 0, len(r))
	for t := range r {
		tables = append(tables, t)
	}
	return tables
}
