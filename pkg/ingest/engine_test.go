package ingest

import (
	"context"
	"sync"
	"testing"
	"time"
)

// execRecorder collects every Exec call made by fakeWorkerConns that share
// it, keyed by the statement's name so tests can assert per-table,
// per-arity call counts without caring which worker handled them.
type execRecorder struct {
	mu    sync.Mutex
	calls []execCall
}

type execCall struct {
	stmtName string
	rows     int
}

func (r *execRecorder) record(stmt *PreparedStatement, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := 0
	if len(args) == 1 {
		if n, ok := args[0].(int); ok {
			rows = n
		}
	}
	r.calls = append(r.calls, execCall{stmtName: stmt.Name, rows: rows})
}

func (r *execRecorder) snapshot() []execCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]execCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *execRecorder) waitForCount(t *testing.T, n int, timeout time.Duration) []execCall {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		calls := r.snapshot()
		if len(calls) >= n {
			return calls
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d exec calls, got %d", n, len(calls))
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeConnector hands out fresh fakeWorkerConns wired to a shared recorder,
// and counts how many connections have been opened.
type fakeConnector struct {
	mu     sync.Mutex
	execs  *execRecorder
	opened int
	onOpen func()
}

func (c *fakeConnector) Connect(ctx context.Context) (WorkerConn, error) {
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
	if c.onOpen != nil {
		c.onOpen()
	}
	return &fakeWorkerConn{execs: c.execs}, nil
}

func (c *fakeConnector) openedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

func baseTestConfig() Config {
	return Config{
		MaxConnections:              50,
		BufferSize:                  4,
		BaselineSingleDigits:        0,
		BaselineTens:                0,
		BaselineHundreds:            0,
		MaxRecordsPerCycleBatch:     3,
		IntroducedLagCycles:         1,
		IntroducedLagMillis:         time.Millisecond,
		ConnectionCreationThreshold: 50,
		Name:                        "test-engine",
	}
}

func fullRegistry(tables ...string) Registry {
	reg := make(Registry, len(tables))
	for _, tbl := range tables {
		byArity := make(map[int]string, len(ladder))
		for _, arity := range ladder {
			byArity[arity] = "upsert " + tbl
		}
		reg[tbl] = byArity
	}
	return reg
}

func TestEngineFlushesThresholdBatch(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	engine := New[fakeRow](baseTestConfig(), fullRegistry("orders"), connector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []fakeRow, 1)
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, inbound) }()

	inbound <- rowsOf("orders", 3) // exactly hits MaxRecordsPerCycleBatch
	rec.waitForCount(t, 1, time.Second)

	close(inbound)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("engine did not shut down")
	}

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].rows != 3 || calls[0].stmtName != "orders_arity_3" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestEngineSplitsLadderAcrossTiers(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	cfg := baseTestConfig()
	cfg.MaxRecordsPerCycleBatch = 113
	engine := New[fakeRow](cfg, fullRegistry("events"), connector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []fakeRow, 1)
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, inbound) }()

	inbound <- rowsOf("events", 113)
	rec.waitForCount(t, 3, time.Second)

	close(inbound)
	<-done

	calls := rec.snapshot()
	total := 0
	seen := map[string]bool{}
	for _, c := range calls {
		total += c.rows
		seen[c.stmtName] = true
	}
	if total != 113 {
		t.Fatalf("expected 113 rows processed total, got %d", total)
	}
	for _, want := range []string{"events_arity_100", "events_arity_10", "events_arity_3"} {
		if !seen[want] {
			t.Fatalf("expected a call against %s, got %+v", want, calls)
		}
	}
}

func TestEngineScalesUpUnderFlood(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	cfg := baseTestConfig()
	cfg.MaxRecordsPerCycleBatch = 1
	cfg.BufferSize = 1
	cfg.ConnectionCreationThreshold = 90 // nearly any non-empty channel forces a scale-up
	cfg.MaxConnections = 10

	// Five distinct single-row tables flush in the same process() call, so
	// their dispatches happen back to back before any worker can drain its
	// channel and free capacity back up.
	tables := []string{"t0", "t1", "t2", "t3", "t4"}
	engine := New[fakeRow](cfg, fullRegistry(tables...), connector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []fakeRow, 1)
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, inbound) }()

	var burst []fakeRow
	for _, tbl := range tables {
		burst = append(burst, rowsOf(tbl, 1)...)
	}
	inbound <- burst
	rec.waitForCount(t, 5, time.Second)

	close(inbound)
	<-done

	// The first connection opened is Run's startup connectivity check; every
	// later one belongs to a worker.
	if got := connector.openedCount() - 1; got < 2 {
		t.Fatalf("expected more than one worker connection to have been opened under flood, got %d", got)
	}
}

func TestEngineDrainsLeftoverAfterImmediateFlush(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	cfg := baseTestConfig()
	cfg.MaxRecordsPerCycleBatch = 2
	cfg.IntroducedLagCycles = 1
	cfg.IntroducedLagMillis = time.Millisecond
	engine := New[fakeRow](cfg, fullRegistry("hot", "quiet"), connector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []fakeRow, 1)
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, inbound) }()

	// "hot" reaches threshold and flushes immediately; "quiet" is one row
	// short and gets no further traffic. It must still drain via the lag
	// window within this same process() call rather than sit stranded
	// until some future batch happens to push it over threshold.
	batch := append(rowsOf("hot", 2), rowsOf("quiet", 1)...)
	inbound <- batch
	rec.waitForCount(t, 2, time.Second)

	close(inbound)
	<-done

	calls := rec.snapshot()
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c.stmtName] = true
	}
	if !seen["hot_arity_2"] || !seen["quiet_arity_1"] {
		t.Fatalf("expected both the flushed and the leftover table to be upserted, got %+v", calls)
	}
}

func TestDispatchPanicsWhenEmptyTierAtConnectionCeiling(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	cfg := baseTestConfig()
	cfg.MaxConnections = 2
	engine := New[fakeRow](cfg, fullRegistry("orders"), connector, nil)
	engine.totalWorkers.Store(int64(cfg.MaxConnections))

	defer func() {
		if recover() == nil {
			t.Fatal("expected dispatch to panic when an empty tier is at the connection ceiling")
		}
	}()

	engine.dispatch(context.Background(), "orders", rowsOf("orders", 1))
}

func TestEngineRetiresIdleWorkersOnRebalance(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	cfg := baseTestConfig()
	cfg.MaxRecordsPerCycleBatch = 1
	engine := New[fakeRow](cfg, fullRegistry("orders"), connector, nil)

	tr := engine.tiers[1]
	tr.handles = append(tr.handles,
		&workerHandle[fakeRow]{id: 1, tier: 1, ch: make(chan []fakeRow, 4)},
		&workerHandle[fakeRow]{id: 2, tier: 1, ch: make(chan []fakeRow, 4)},
		&workerHandle[fakeRow]{id: 3, tier: 1, ch: make(chan []fakeRow, 4)},
	)
	engine.totalWorkers.Store(3)

	engine.rebalance()

	if len(tr.handles) != 1 {
		t.Fatalf("expected 3-ceil(3/2)=1 survivor after retiring idle workers, got %d", len(tr.handles))
	}
	if engine.totalWorkers.Load() != 1 {
		t.Fatalf("expected totalWorkers to track retirement, got %d", engine.totalWorkers.Load())
	}
}

func TestEngineMultiTableInterleave(t *testing.T) {
	rec := &execRecorder{}
	connector := &fakeConnector{execs: rec}
	cfg := baseTestConfig()
	cfg.MaxRecordsPerCycleBatch = 2
	engine := New[fakeRow](cfg, fullRegistry("orders", "customers"), connector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan []fakeRow, 1)
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, inbound) }()

	mixed := append(rowsOf("orders", 2), rowsOf("customers", 2)...)
	inbound <- mixed
	rec.waitForCount(t, 2, time.Second)

	close(inbound)
	<-done

	calls := rec.snapshot()
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c.stmtName] = true
	}
	if !seen["orders_arity_2"] || !seen["customers_arity_2"] {
		t.Fatalf("expected both tables to have been upserted, got %+v", calls)
	}
}
