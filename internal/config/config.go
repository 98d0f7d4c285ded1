// Package config loads and validates the radar configuration. Values come
// from an optional TOML file with zero values falling through to each
// package's defaults, so an empty config is a runnable config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"sui-pool-radar/internal/scanner"
	"sui-pool-radar/internal/transport"
	"sui-pool-radar/internal/validation"
)

type Config struct {
	RPC struct {
		HTTPEndpoint string `toml:"http_endpoint"` // e.g. https://fullnode.mainnet.sui.io
		WSEndpoint   string `toml:"ws_endpoint"`   // e.g. wss://fullnode.mainnet.sui.io
		TimeoutMs    int    `toml:"timeout_ms"`
		MaxRetries   int    `toml:"max_retries"`
	} `toml:"rpc"`

	Transport struct {
		MaxConnections       int  `toml:"max_connections"`
		MaxReconnectAttempts int  `toml:"max_reconnect_attempts"`
		ReconnectDelayMs     int  `toml:"reconnect_delay_ms"`
		ConnectionTimeoutMs  int  `toml:"connection_timeout_ms"`
		WriteTimeoutMs       int  `toml:"write_timeout_ms"`
		CallTimeoutMs        int  `toml:"call_timeout_ms"`
		EnableCompression    bool `toml:"enable_compression"`
		BatchIntervalMs      int  `toml:"batch_interval_ms"`
		MaxBatchSize         int  `toml:"max_batch_size"`
		MonitoringIntervalMs int  `toml:"monitoring_interval_ms"`
	} `toml:"transport"`

	Scanner struct {
		ScanIntervalMs       int      `toml:"scan_interval_ms"`
		BatchSize            int      `toml:"batch_size"`
		QueryLimit           int      `toml:"query_limit"`
		ClockSkewToleranceMs int      `toml:"clock_skew_tolerance_ms"`
		InterBatchDelayMs    int      `toml:"inter_batch_delay_ms"`
		SeenTTLMin           int      `toml:"seen_ttl_min"`
		Sources              []string `toml:"sources"` // empty means all known venues
	} `toml:"scanner"`

	Validation struct {
		MaxAttempts        int    `toml:"max_attempts"`
		MonitoringTimeMs   int    `toml:"monitoring_time_ms"`
		CheckTimeoutMs     int    `toml:"check_timeout_ms"`
		LiquidityTimeoutMs int    `toml:"liquidity_timeout_ms"`
		RefreshIntervalMs  int    `toml:"refresh_interval_ms"`
		MaxConcurrent      int    `toml:"max_concurrent"`
		LiquidityField     string `toml:"liquidity_field"`
	} `toml:"validation"`

	Cache struct {
		MaxSize    int `toml:"max_size"`
		TTLMin     int `toml:"ttl_min"`
		MaxHistory int `toml:"max_history"`
	} `toml:"cache"`

	Storage struct {
		PostgresDSN   string `toml:"postgres_dsn"`   // empty disables the candidate store
		RedisURL      string `toml:"redis_url"`      // empty disables the seen store
		ClickhouseDSN string `toml:"clickhouse_dsn"` // empty disables the liquidity sink
	} `toml:"storage"`

	Metrics struct {
		Enabled    bool   `toml:"enabled"`
		ListenAddr string `toml:"listen_addr"` // e.g. :9090
	} `toml:"metrics"`

	Log struct {
		Level  string `toml:"level"`  // trace, debug, info, warn, error
		Pretty bool   `toml:"pretty"` // console writer instead of JSON
	} `toml:"log"`
}

// Load reads the TOML file, applies defaults and validates. An empty path
// returns a default config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in the fields that need a value before validation.
// Tuning knobs stay zero here; each package applies its own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.RPC.HTTPEndpoint == "" {
		cfg.RPC.HTTPEndpoint = "https://fullnode.mainnet.sui.io"
	}
	if cfg.RPC.WSEndpoint == "" {
		cfg.RPC.WSEndpoint = "wss://fullnode.mainnet.sui.io"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the configuration. These are the only errors that abort
// startup; everything past this point is retried or degraded.
func Validate(cfg *Config) error {
	if !strings.HasPrefix(cfg.RPC.HTTPEndpoint, "http://") && !strings.HasPrefix(cfg.RPC.HTTPEndpoint, "https://") {
		return errors.New("rpc.http_endpoint must be an http(s) URL")
	}
	if !strings.HasPrefix(cfg.RPC.WSEndpoint, "ws://") && !strings.HasPrefix(cfg.RPC.WSEndpoint, "wss://") {
		return errors.New("rpc.ws_endpoint must be a ws(s) URL")
	}
	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	for _, name := range cfg.Scanner.Sources {
		if strings.TrimSpace(name) == "" {
			return errors.New("scanner.sources contains an empty name")
		}
	}
	if cfg.Validation.MaxAttempts < 0 {
		return errors.New("validation.max_attempts must not be negative")
	}
	if cfg.Cache.MaxSize < 0 {
		return errors.New("cache.max_size must not be negative")
	}
	return nil
}

// TransportConfig maps the file values onto transport.Config.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Endpoint:             c.RPC.WSEndpoint,
		MaxConnections:       c.Transport.MaxConnections,
		MaxReconnectAttempts: c.Transport.MaxReconnectAttempts,
		ReconnectDelay:       ms(c.Transport.ReconnectDelayMs),
		ConnectionTimeout:    ms(c.Transport.ConnectionTimeoutMs),
		WriteTimeout:         ms(c.Transport.WriteTimeoutMs),
		CallTimeout:          ms(c.Transport.CallTimeoutMs),
		EnableCompression:    c.Transport.EnableCompression,
		BatchInterval:        ms(c.Transport.BatchIntervalMs),
		MaxBatchSize:         c.Transport.MaxBatchSize,
		MonitoringInterval:   ms(c.Transport.MonitoringIntervalMs),
	}
}

// ScannerConfig maps the file values onto scanner.Config.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		ScanInterval:       ms(c.Scanner.ScanIntervalMs),
		BatchSize:          c.Scanner.BatchSize,
		QueryLimit:         c.Scanner.QueryLimit,
		ClockSkewTolerance: ms(c.Scanner.ClockSkewToleranceMs),
		InterBatchDelay:    ms(c.Scanner.InterBatchDelayMs),
		SeenTTL:            time.Duration(c.Scanner.SeenTTLMin) * time.Minute,
	}
}

// ValidationConfig maps the file values onto validation.Config.
func (c *Config) ValidationConfig() validation.Config {
	return validation.Config{
		MaxAttempts:      c.Validation.MaxAttempts,
		MonitoringTime:   ms(c.Validation.MonitoringTimeMs),
		CheckTimeout:     ms(c.Validation.CheckTimeoutMs),
		LiquidityTimeout: ms(c.Validation.LiquidityTimeoutMs),
		RefreshInterval:  ms(c.Validation.RefreshIntervalMs),
		MaxConcurrent:    c.Validation.MaxConcurrent,
		CacheTTL:         time.Duration(c.Cache.TTLMin) * time.Minute,
		LiquidityField:   c.Validation.LiquidityField,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
