// Package config loads and validates the ingestion daemon's configuration.
package config

import (
	"fmt"
	"time"

	"github.com/elchinoo/pgstream/internal/logging"
	"github.com/elchinoo/pgstream/pkg/ingest"

	"github.com/spf13/viper"
)

// DatabaseConfig describes how to reach the destination Postgres instance.
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Dbname       string `mapstructure:"dbname"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Sslmode      string `mapstructure:"sslmode"`
	RootCertPath string `mapstructure:"root_cert_path"`
}

// EngineConfig mirrors ingest.Config with the mapstructure tags viper needs;
// ToIngestConfig converts it once the YAML has been loaded and validated.
type EngineConfig struct {
	MaxConnections               int     `mapstructure:"max_connections"`
	BufferSize                   int     `mapstructure:"buffer_size"`
	BaselineSingleDigits         int     `mapstructure:"baseline_single_digits"`
	BaselineTens                 int     `mapstructure:"baseline_tens"`
	BaselineHundreds             int     `mapstructure:"baseline_hundreds"`
	MaxRecordsPerCycleBatch      int     `mapstructure:"max_records_per_cycle_batch"`
	IntroducedLagCycles          int     `mapstructure:"introduced_lag_cycles"`
	IntroducedLagMillis          int     `mapstructure:"introduced_lag_millis"`
	ConnectionCreationThreshold  float64 `mapstructure:"connection_creation_threshold"`
	PrintConnectionConfiguration bool    `mapstructure:"print_connection_configuration"`
	Name                         string  `mapstructure:"name"`
}

// ToIngestConfig converts the loaded, validated EngineConfig into the value
// pkg/ingest.New expects.
func (e EngineConfig) ToIngestConfig() ingest.Config {
	return ingest.Config{
		MaxConnections:               e.MaxConnections,
		BufferSize:                   e.BufferSize,
		BaselineSingleDigits:         e.BaselineSingleDigits,
		BaselineTens:                 e.BaselineTens,
		BaselineHundreds:             e.BaselineHundreds,
		MaxRecordsPerCycleBatch:      e.MaxRecordsPerCycleBatch,
		IntroducedLagCycles:          e.IntroducedLagCycles,
		IntroducedLagMillis:          time.Duration(e.IntroducedLagMillis) * time.Millisecond,
		ConnectionCreationThreshold:  e.ConnectionCreationThreshold,
		PrintConnectionConfiguration: e.PrintConnectionConfiguration,
		Name:                         e.Name,
	}
}

// AppConfig is the root configuration document for cmd/ingestd.
type AppConfig struct {
	Database          DatabaseConfig `mapstructure:"database"`
	Logging           logging.Config `mapstructure:"logging"`
	Engine            EngineConfig   `mapstructure:"engine"`
	QueryRegistryPath string         `mapstructure:"query_registry_path"`
}

// Load reads, unmarshals, and validates configuration from configFile.
func Load(configFile string) (*AppConfig, error) {
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1-65535, got: %d", cfg.Database.Port)
	}
	if cfg.Database.Dbname == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.Database.Sslmode != "" && !validSSLModes[cfg.Database.Sslmode] {
		return fmt.Errorf("invalid sslmode: %s (valid: disable, require, verify-ca, verify-full)", cfg.Database.Sslmode)
	}

	if cfg.QueryRegistryPath == "" {
		return fmt.Errorf("query_registry_path is required")
	}

	e := cfg.Engine
	if e.MaxConnections <= 0 {
		return fmt.Errorf("engine.max_connections must be positive, got: %d", e.MaxConnections)
	}
	if e.BufferSize <= 0 {
		return fmt.Errorf("engine.buffer_size must be positive, got: %d", e.BufferSize)
	}
	if e.MaxRecordsPerCycleBatch <= 0 {
		return fmt.Errorf("engine.max_records_per_cycle_batch must be positive, got: %d", e.MaxRecordsPerCycleBatch)
	}
	if e.IntroducedLagCycles < 0 {
		return fmt.Errorf("engine.introduced_lag_cycles must be non-negative, got: %d", e.IntroducedLagCycles)
	}
	if e.IntroducedLagMillis < 0 {
		return fmt.Errorf("engine.introduced_lag_millis must be non-negative, got: %d", e.IntroducedLagMillis)
	}
	if e.ConnectionCreationThreshold <= 0 || e.ConnectionCreationThreshold > 100 {
		return fmt.Errorf("engine.connection_creation_threshold must be in (0, 100], got: %f", e.ConnectionCreationThreshold)
	}

	baseline := e.BaselineSingleDigits*9 + e.BaselineTens + e.BaselineHundreds
	if baseline > e.MaxConnections {
		return fmt.Errorf("engine baseline worker count (%d) exceeds max_connections (%d)", baseline, e.MaxConnections)
	}
	if e.Name == "" {
		return fmt.Errorf("engine.name is required")
	}

	return nil
}
