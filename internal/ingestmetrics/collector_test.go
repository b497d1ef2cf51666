package ingestmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/elchinoo/pgstream/pkg/ingest"
)

type fakeSource struct {
	snap ingest.Snapshot
}

func (f *fakeSource) Snapshot() ingest.Snapshot { return f.snap }

func TestCollectorCollectsSamples(t *testing.T) {
	src := &fakeSource{snap: ingest.Snapshot{TotalWorkers: 3, MaxConnections: 10, RowsProcessed: 100}}
	c := New(nil, src, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	samples := c.Samples()
	if len(samples) == 0 {
		t.Fatal("expected at least one sample to have been collected")
	}
	if samples[0].TotalWorkers != 3 {
		t.Fatalf("expected total workers 3, got %d", samples[0].TotalWorkers)
	}
}

func TestCollectorBoundsSampleCount(t *testing.T) {
	src := &fakeSource{snap: ingest.Snapshot{TotalWorkers: 1, MaxConnections: 1}}
	c := New(nil, src, time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	time.Sleep(25 * time.Millisecond)
	c.Stop()

	if got := len(c.Samples()); got > 3 {
		t.Fatalf("expected at most 3 retained samples, got %d", got)
	}
}

func TestCollectorLatestWhenEmpty(t *testing.T) {
	src := &fakeSource{}
	c := New(nil, src, time.Second, 10)

	if _, ok := c.Latest(); ok {
		t.Fatal("expected no sample before collection starts")
	}
}
