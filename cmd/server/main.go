// Package main runs the token registry daemon: the background
// reconciler keeping per-network token lists consistent with the
// exchange contracts, plus the HTTP/WebSocket read API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/tint"

	"dex-token-registry/internal/api"
	"dex-token-registry/internal/eth"
	"dex-token-registry/internal/observability"
	"dex-token-registry/internal/reconciler"
	"dex-token-registry/internal/storage"
	chstore "dex-token-registry/internal/storage/clickhouse"
	"dex-token-registry/internal/storage/memory"
	"dex-token-registry/internal/storage/migrations"
	pgstore "dex-token-registry/internal/storage/postgres"
	"dex-token-registry/internal/tcr"
)

// endpointsFlag collects repeatable "networkId=value" pairs.
type endpointsFlag map[uint64]string

func (f endpointsFlag) String() string {
	pairs := make([]string, 0, len(f))
	for id, v := range f {
		pairs = append(pairs, fmt.Sprintf("%d=%s", id, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (f endpointsFlag) Set(raw string) error {
	id, value, err := splitNetworkPair(raw)
	if err != nil {
		return err
	}
	f[id] = value
	return nil
}

// contractsFlag collects repeatable "networkId=address" pairs.
type contractsFlag map[uint64]common.Address

func (f contractsFlag) String() string {
	pairs := make([]string, 0, len(f))
	for id, addr := range f {
		pairs = append(pairs, fmt.Sprintf("%d=%s", id, addr.Hex()))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (f contractsFlag) Set(raw string) error {
	id, value, err := splitNetworkPair(raw)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("%q is not a hex address", value)
	}
	f[id] = common.HexToAddress(value)
	return nil
}

func splitNetworkPair(raw string) (uint64, string, error) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("expected networkId=value, got %q", raw)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid network id in %q: %w", raw, err)
	}
	return id, strings.TrimSpace(parts[1]), nil
}

func main() {
	loadEnvFile()

	networks := make(endpointsFlag)
	exchanges := make(contractsFlag)
	registries := make(contractsFlag)

	flag.Var(networks, "network", "Network RPC endpoint as networkId=url (repeatable)")
	flag.Var(exchanges, "exchange", "Exchange contract as networkId=address (repeatable)")
	flag.Var(registries, "registry", "Curated registry contract as networkId=address (repeatable, optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the refresh audit log (empty to disable)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	listenAddr := flag.String("listen", ":8080", "HTTP API listen address")
	retryDelay := flag.Duration("retry-delay", reconciler.DefaultRetryDelay, "Initial id-refresh retry delay")
	maxRetryRounds := flag.Int("max-retry-rounds", reconciler.DefaultMaxRetryRounds, "Id-refresh retry rounds before giving up")
	imageURL := flag.String("image-url", "", "Token image URL template, %s replaced with the checksummed address")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: parseLogLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	if len(networks) == 0 {
		logger.Error("at least one --network is required")
		os.Exit(1)
	}
	for id := range networks {
		if _, ok := exchanges[id]; !ok {
			logger.Error("missing --exchange for configured network", "network", id)
			os.Exit(1)
		}
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Error("--postgres-dsn is required (use --use-memory for in-memory storage)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients, err := eth.DialClients(ctx, networks)
	if err != nil {
		logger.Error("dial RPC endpoints", tint.Err(err))
		os.Exit(1)
	}
	defer clients.Close()

	tokenStore, refreshLog, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Error("create stores", tint.Err(err))
		os.Exit(1)
	}
	defer cleanup()

	callers := clients.Callers()
	exchange := eth.NewExchangeClient(eth.ExchangeOptions{
		Callers:   callers,
		Contracts: exchanges,
	})
	resolver := eth.NewERC20Resolver(eth.ResolverOptions{
		Callers:          callers,
		ImageURLTemplate: *imageURL,
	})

	var registry reconciler.Registry
	if len(registries) > 0 {
		registry = tcr.New(tcr.Options{
			Callers:   callers,
			Contracts: registries,
		})
	}

	syncer := reconciler.New(reconciler.Options{
		Store:          tokenStore,
		Exchange:       exchange,
		Resolver:       resolver,
		Registry:       registry,
		RefreshLog:     refreshLog,
		Metrics:        observability.NewMetrics(nil, ""),
		Logger:         logger,
		MaxRetryRounds: *maxRetryRounds,
		RetryDelay:     *retryDelay,
	})

	apiServer := api.NewServer(api.Options{Source: syncer, Logger: logger})
	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: apiServer.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", tint.Err(err))
		}
	}()

	go func() {
		if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", tint.Err(err))
		}
	}()

	// Trigger an initial refresh for every configured network instead of
	// waiting for the first API read.
	for id := range networks {
		syncer.Tokens(ctx, id)
	}

	logger.Info("listening", "addr", *listenAddr, "networks", len(networks))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", tint.Err(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// createStores builds the token store and the optional refresh audit log.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.TokenStore, storage.RefreshLogStore, func(), error) {
	if useMemory {
		return memory.NewTokenStore(), nil, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	var refreshLog storage.RefreshLogStore
	cleanup := func() { pool.Close() }

	if clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouse(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, nil, fmt.Errorf("apply clickhouse migrations: %w", err)
		}
		refreshLog = chstore.NewRefreshLogStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return pgstore.NewTokenStore(pool), refreshLog, cleanup, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
