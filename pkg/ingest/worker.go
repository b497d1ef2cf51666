package ingest

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// runWorker is the per-task ingestion loop described in spec §4.6. It owns
// exactly one connection and one inbound channel for its entire lifetime.
//
// Connect and Prepare faults are unrecoverable for this worker and are
// raised as panics, matching the taxonomy in spec §7 ("Configuration
// fault", "Connect failure", "Prepare failure"); a panics.Catcher confines
// the panic to this goroutine so one bad worker never takes down the
// engine — the handle is simply pruned by the rebalancer on its next pass.
// Execute failures are not panics: the worker logs the error and returns,
// which has the same observable effect (handle goes dead, gets pruned) but
// does not treat a single failed upsert as a bug.
func (e *Engine[T]) runWorker(ctx context.Context, h *workerHandle[T]) {
	defer h.finished.Store(true)

	log := e.logger.With(zap.Int64("worker_id", h.id), zap.Int("tier", h.tier))

	var catcher panics.Catcher
	catcher.Try(func() {
		e.workerBody(ctx, h, log)
	})

	if recovered := catcher.Recovered(); recovered != nil {
		log.Error("worker terminated by unrecoverable fault", recovered.AsError())
	}
}

func (e *Engine[T]) workerBody(ctx context.Context, h *workerHandle[T], log Logger) {
	log.Info("worker starting")

	conn, err := e.connector.Connect(ctx)
	if err != nil {
		panic(errors.Wrapf(err, "worker %d: connect failed", h.id))
	}
	defer func() {
		if cerr := conn.Close(ctx); cerr != nil {
			log.Warn("worker connection close failed", zap.Error(cerr))
		}
	}()

	stmts, err := e.registry.Prepare(ctx, conn, h.tier)
	if err != nil {
		panic(errors.Wrapf(err, "worker %d: prepare failed", h.id))
	}

	log.Info("worker ready")

	for {
		select {
		case rows, ok := <-h.ch:
			if !ok {
				log.Debug("inbound channel closed, worker exiting")
				return
			}
			if !e.processBatch(ctx, h, conn, rows, stmts, log) {
				return
			}
		case <-ctx.Done():
			log.Info("cancellation received, worker exiting")
			return
		}
	}
}

// processBatch upserts one sub-vector and reports whether the worker should
// keep running: it returns false after an execute failure.
func (e *Engine[T]) processBatch(ctx context.Context, h *workerHandle[T], conn Conn, rows []T, stmts map[string]*PreparedStatement, log Logger) bool {
	table := rows[0].Table()
	stmt, ok := stmts[table]
	if !ok {
		panic(fmt.Sprintf("dispatch invariant violated: worker %d (tier %d) received rows for unregistered table %q", h.id, h.tier, table))
	}

	count, err := rows[0].Upsert(ctx, conn, rows, stmt, h.id)
	if err != nil {
		e.upsertFailures.Add(1)
		log.Error("upsert failed, worker exiting", err, zap.String("table", table), zap.Int("rows", len(rows)))
		return false
	}
	e.rowsProcessed.Add(int64(len(rows)))
	log.Debug("upsert complete", zap.String("table", table), zap.Int("rows", len(rows)), zap.Int64("affected", count))
	return true
}
