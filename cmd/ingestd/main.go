// cmd/ingestd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elchinoo/pgstream/internal/config"
	"github.com/elchinoo/pgstream/internal/demo"
	"github.com/elchinoo/pgstream/internal/ingestmetrics"
	"github.com/elchinoo/pgstream/internal/logging"
	"github.com/elchinoo/pgstream/internal/pgconn"
	"github.com/elchinoo/pgstream/internal/queryregistry"
	"github.com/elchinoo/pgstream/pkg/ingest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set by build system via ldflags).
var (
	Version   = "v0.1.0-beta"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	var (
		configFile  string
		showVersion bool
		demoMode    bool
		demoTables  []string
	)

	rootCmd := &cobra.Command{
		Use:   "ingestd",
		Short: "A dynamically scaled, arity-tiered batched upsert ingestion daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Printf("ingestd %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
				return nil
			}
			return run(configFile, demoMode, demoTables)
		},
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")
	rootCmd.Flags().BoolVar(&demoMode, "demo", false, "ignore query_registry_path and drive the built-in demo row type")
	rootCmd.Flags().StringSliceVar(&demoTables, "demo-tables", []string{"orders", "customers"}, "tables to synthesize traffic for in demo mode")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, demoMode bool, demoTables []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	connector, err := pgconn.NewConnector(cfg.Database)
	if err != nil {
		return fmt.Errorf("init connector: %w", err)
	}

	var registry ingest.Registry
	if demoMode {
		registry = demo.BuildRegistry(demoTables...)
		log.Warn("running in demo mode", zap.Strings("tables", demoTables))
	} else {
		registry, err = queryregistry.Load(cfg.QueryRegistryPath)
		if err != nil {
			return fmt.Errorf("load query registry: %w", err)
		}
	}

	engine := ingest.New[demo.Record](cfg.Engine.ToIngestConfig(), registry, connector, log)
	metrics := ingestmetrics.New(log, engine, 5*time.Second, 2880)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	inbound := make(chan []demo.Record, 1024)
	metrics.Start(ctx)
	defer metrics.Stop()

	if demoMode {
		go generateDemoTraffic(ctx, inbound, demoTables, log)
	}

	return engine.Run(ctx, inbound)
}

// generateDemoTraffic feeds the engine a steady stream of synthetic rows
// across demoTables so ingestd --demo has something to push without a real
// upstream producer wired in.
func generateDemoTraffic(ctx context.Context, inbound chan<- []demo.Record, tables []string, log logging.Logger) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var id int64
	for {
		select {
		case <-ticker.C:
			batch := make([]demo.Record, 0, len(tables))
			for _, table := range tables {
				id++
				batch = append(batch, demo.Record{
					TableName: table,
					ID:        id,
					Value:     fmt.Sprintf("sample-%d", id),
					UpdatedAt: time.Now(),
				})
			}
			select {
			case inbound <- batch:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			log.Debug("demo traffic generator stopping")
			return
		}
	}
}
