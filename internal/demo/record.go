// Package demo provides a minimal ingest.Row implementation and a matching
// query-registry builder, used by cmd/ingestd's demo mode as a stand-in for
// a real domain row type.
package demo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elchinoo/pgstream/pkg/ingest"
)

// Record is a generic (id, value, updated_at) row tagged with its own
// destination table, letting one inbound channel carry rows for several
// tables at once.
type Record struct {
	TableName string
	ID        int64
	Value     string
	UpdatedAt time.Time
}

func (r Record) Table() string { return r.TableName }

func (r Record) PKey() int64 { return r.ID }

func (r Record) ModifiedDate() time.Time { return r.UpdatedAt }

// Upsert flattens rows into the positional argument list the prepared
// statement's multi-row VALUES list expects, in the same (id, value,
// updated_at) column order BuildRegistry used to generate the SQL.
func (r Record) Upsert(ctx context.Context, conn ingest.Conn, rows []Record, stmt *ingest.PreparedStatement, workerID int64) (int64, error) {
	args := make([]any, 0, len(rows)*3)
	for _, row := range rows {
		args = append(args, row.ID, row.Value, row.UpdatedAt)
	}
	return conn.Exec(ctx, stmt, args...)
}

// ladder mirrors the arities pkg/ingest splits batches into; it is
// duplicated here (rather than exported from pkg/ingest) because the
// registry builder is a demo/CLI concern, not part of the engine's
// contract with its callers.
var ladder = [...]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 100}

// BuildRegistry generates an upsert-on-conflict query template for every
// ladder arity, for every table named, suitable for driving an
// ingest.Engine[Record].
func BuildRegistry(tables ...string) ingest.Registry {
	reg := make(ingest.Registry, len(tables))
	for _, table := range tables {
		byArity := make(map[int]string, len(ladder))
		for _, arity := range ladder {
			byArity[arity] = upsertTemplate(table, arity)
		}
		reg[table] = byArity
	}
	return reg
}

func upsertTemplate(table string, arity int) string {
	placeholders := make([]string, arity)
	col := 1
	for i := 0; i < arity; i++ {
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", col, col+1, col+2)
		col += 3
	}
	return fmt.Sprintf(
		"INSERT INTO %s (id, value, updated_at) VALUES %s "+
			"ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at",
		table, strings.Join(placeholders, ", "),
	)
}
