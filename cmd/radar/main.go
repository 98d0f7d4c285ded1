package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"sui-pool-radar/internal/cache"
	"sui-pool-radar/internal/config"
	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/observability"
	"sui-pool-radar/internal/scanner"
	"sui-pool-radar/internal/storage"
	chstore "sui-pool-radar/internal/storage/clickhouse"
	"sui-pool-radar/internal/storage/memory"
	"sui-pool-radar/internal/storage/migrations"
	pgstore "sui-pool-radar/internal/storage/postgres"
	redisstore "sui-pool-radar/internal/storage/redis"
	"sui-pool-radar/internal/sui"
	"sui-pool-radar/internal/transport"
	"sui-pool-radar/internal/validation"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Sui RPC HTTP endpoint (overrides config)")
	wsEndpoint := flag.String("ws-endpoint", "", "Sui WebSocket endpoint (overrides config)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	redisURL := flag.String("redis-url", "", "Redis URL for the seen store (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse DSN for liquidity points (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage regardless of DSN flags")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config)")
	sourceList := flag.String("sources", "", "Comma-separated venue names to monitor (default all)")

	flag.Parse()

	// Best effort; DSNs and endpoints commonly live in .env during development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *rpcEndpoint, *wsEndpoint, *postgresDSN, *redisURL, *clickhouseDSN, *metricsAddr, *sourceList)

	logger := newLogger(cfg)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go handleSignals(cancel, done, logger)

	if err := run(ctx, cfg, *useMemory, logger); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("radar exited with error")
	}
	close(done)

	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, useMemory bool, logger zerolog.Logger) error {
	// Stores default to memory; DSNs upgrade them individually.
	var candidateStore storage.CandidateStore = memory.NewCandidateStore()
	var seenStore storage.SeenStore = memory.NewSeenStore()
	var liquidityStore storage.LiquidityPointStore = memory.NewLiquidityPointStore()

	if !useMemory && cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		candidateStore = pgstore.NewCandidateStore(pool)
		logger.Info().Msg("candidate store: postgres")
	}

	if !useMemory && cfg.Storage.RedisURL != "" {
		rs, err := redisstore.NewSeenStore(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rs.Close()
		seenStore = rs
		logger.Info().Msg("seen store: redis")
	}

	if !useMemory && cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		defer conn.Close()
		liquidityStore = chstore.NewLiquidityPointStore(conn)
		logger.Info().Msg("liquidity store: clickhouse")
	}

	clientOpts := []sui.ClientOption{sui.WithTimeout(msOrDefault(cfg.RPC.TimeoutMs, 15*time.Second))}
	if cfg.RPC.MaxRetries > 0 {
		clientOpts = append(clientOpts, sui.WithMaxRetries(cfg.RPC.MaxRetries))
	}
	client := sui.NewHTTPClient(cfg.RPC.HTTPEndpoint, clientOpts...)

	candidateCache := cache.New(
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithTTL(time.Duration(cfg.Cache.TTLMin)*time.Minute),
		cache.WithMaxHistory(cfg.Cache.MaxHistory),
	)

	validator := validation.New(validation.Options{
		Cache:          candidateCache,
		Check:          validation.HeuristicCheck(),
		Client:         client,
		CandidateStore: candidateStore,
		LiquidityStore: liquidityStore,
		OnCandidate:    logCandidate(logger),
		Config:         cfg.ValidationConfig(),
		Logger:         logger,
	})
	defer validator.Close()

	sources := selectSources(cfg.Scanner.Sources)
	if len(sources) == 0 {
		return fmt.Errorf("no known sources selected from %v", cfg.Scanner.Sources)
	}

	sc := scanner.New(scanner.Options{
		Client:    client,
		Cache:     candidateCache,
		SeenStore: seenStore,
		Sources:   sources,
		Config:    cfg.ScannerConfig(),
		Logger:    logger,
	})

	// The pool is the low-latency path: a push notification only kicks the
	// scanner, which then queries with full pagination over HTTP. Losing the
	// socket degrades to pure polling instead of losing events.
	pool, err := transport.Open(ctx, cfg.TransportConfig(), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket pool unavailable, running poll-only")
	} else {
		defer pool.Close()
		for _, src := range sources {
			filter := sui.EventFilter{MoveEventType: src.EventType}
			_, err := pool.Subscribe(ctx, "suix_subscribeEvent", []any{filter}, func(json.RawMessage) {
				sc.Kick()
			}, "suix_unsubscribeEvent")
			if err != nil {
				logger.Warn().Err(err).Str("source", src.Name).Msg("event subscription failed")
			}
		}
	}

	go refreshLoop(ctx, validator, cfg.ValidationConfig().RefreshInterval)

	logger.Info().Int("sources", len(sources)).Msg("radar started")

	return sc.Run(ctx, func(ctx context.Context, c *domain.Candidate) {
		validator.Admit(ctx, c)
	})
}

// refreshLoop periodically re-samples liquidity for live cache entries.
func refreshLoop(ctx context.Context, v *validation.Validator, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.RefreshLiquidity(ctx)
		}
	}
}

// logCandidate is the default downstream sink: log and move on. Real
// deployments swap this for an execution engine.
func logCandidate(logger zerolog.Logger) validation.Handler {
	return func(_ context.Context, c *domain.Candidate) error {
		ev := logger.Info().
			Str("pool", c.PoolID).
			Str("source", c.SourceName).
			Str("coin_a", c.CoinA).
			Str("coin_b", c.CoinB)
		if c.Liquidity != nil {
			ev = ev.Float64("liquidity", *c.Liquidity)
		}
		ev.Msg("pool validated")
		return nil
	}
}

// selectSources filters the default venue set by name. An empty filter
// selects everything.
func selectSources(names []string) []*scanner.Source {
	all := scanner.DefaultSources()
	if len(names) == 0 {
		return all
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}

	var out []*scanner.Source
	for _, src := range all {
		if want[src.Name] {
			out = append(out, src)
		}
	}
	return out
}

func applyOverrides(cfg *config.Config, rpc, ws, pgDSN, redisURL, chDSN, metricsAddr, sources string) {
	if rpc != "" {
		cfg.RPC.HTTPEndpoint = rpc
	}
	if ws != "" {
		cfg.RPC.WSEndpoint = ws
	}
	if pgDSN != "" {
		cfg.Storage.PostgresDSN = pgDSN
	}
	if redisURL != "" {
		cfg.Storage.RedisURL = redisURL
	}
	if chDSN != "" {
		cfg.Storage.ClickhouseDSN = chDSN
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = metricsAddr
	}
	if sources != "" {
		cfg.Scanner.Sources = strings.Split(sources, ",")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// handleSignals cancels the run context on the first signal and force-exits
// on a second signal or after a 30s grace period.
func handleSignals(cancel context.CancelFunc, done <-chan struct{}, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	cancel()

	select {
	case sig := <-sigCh:
		logger.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	case <-done:
	}
}

func msOrDefault(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
