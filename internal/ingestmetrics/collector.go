// Package ingestmetrics periodically samples an ingest.Engine's throughput
// and total worker count and keeps a bounded rolling window of samples for
// trend reporting.
package ingestmetrics

import (
	"context"
	"sync"
	"time"

	"github.com/elchinoo/pgstream/internal/logging"
	"github.com/elchinoo/pgstream/pkg/ingest"

	"go.uber.org/zap"
)

// Source is anything that can report an ingest.Snapshot, satisfied by
// *ingest.Engine[T] for any row type T.
type Source interface {
	Snapshot() ingest.Snapshot
}

// Sample is one point-in-time observation derived from a Source snapshot.
type Sample struct {
	Timestamp      time.Time
	ElapsedSeconds float64
	TotalWorkers   int64
	MaxConnections int
	RowsPerSecond  float64
	RowsProcessed  int64
	UpsertFailures int64
}

// Collector samples a Source on a fixed interval and keeps the most recent
// maxSamples observations.
type Collector struct {
	logger logging.Logger
	source Source

	mu      sync.RWMutex
	samples []Sample

	interval   time.Duration
	maxSamples int

	startTime    time.Time
	lastRows     int64
	lastSampleAt time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
}

// New builds a Collector. A nil logger falls back to a development default.
func New(logger logging.Logger, source Source, interval time.Duration, maxSamples int) *Collector {
	if logger == nil {
		logger = logging.NewDefault()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxSamples <= 0 {
		maxSamples = 2880 // 4 hours at a 5s interval
	}
	return &Collector{
		logger:     logger.With(zap.String("component", "ingest_metrics")).(logging.Logger),
		source:     source,
		interval:   interval,
		maxSamples: maxSamples,
		samples:    make([]Sample, 0, maxSamples),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins background sampling. It returns immediately; sampling stops
// when ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.startTime = time.Now()
	c.lastSampleAt = c.startTime
	c.mu.Unlock()

	c.logger.Info("starting ingest metrics collection", zap.Duration("interval", c.interval))
	go c.run(ctx)
}

// Stop halts sampling and blocks until the collection goroutine exits.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	<-c.doneChan
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collectOnce()
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) collectOnce() {
	now := time.Now()
	snap := c.source.Snapshot()

	c.mu.Lock()
	elapsedSinceLast := now.Sub(c.lastSampleAt).Seconds()
	rowsPerSecond := 0.0
	if elapsedSinceLast > 0 {
		rowsPerSecond = float64(snap.RowsProcessed-c.lastRows) / elapsedSinceLast
	}
	c.lastRows = snap.RowsProcessed
	c.lastSampleAt = now

	sample := Sample{
		Timestamp:      now,
		ElapsedSeconds: now.Sub(c.startTime).Seconds(),
		TotalWorkers:   snap.TotalWorkers,
		MaxConnections: snap.MaxConnections,
		RowsPerSecond:  rowsPerSecond,
		RowsProcessed:  snap.RowsProcessed,
		UpsertFailures: snap.UpsertFailures,
	}

	if len(c.samples) >= c.maxSamples {
		c.samples = c.samples[1:]
	}
	c.samples = append(c.samples, sample)
	count := len(c.samples)
	c.mu.Unlock()

	if count%60 == 0 {
		c.logger.Debug("ingest metrics collection progress",
			zap.Int("samples_collected", count),
			zap.Float64("rows_per_second", rowsPerSecond),
			zap.Int64("total_workers", snap.TotalWorkers),
		)
	}
}

// Latest returns the most recent sample, if any.
func (c *Collector) Latest() (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return Sample{}, false
	}
	return c.samples[len(c.samples)-1], true
}

// Samples returns a copy of every sample currently held.
func (c *Collector) Samples() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// MeanRowsPerSecond averages RowsPerSecond across every held sample.
func (c *Collector) MeanRowsPerSecond() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range c.samples {
		sum += s.RowsPerSecond
	}
	return sum / float64(len(c.samples))
}
