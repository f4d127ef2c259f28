// Package main runs one reconciliation pass for a set of networks and
// exits. Intended for cron-style refreshes and for verifying contract
// configuration before deploying the daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/tint"

	"dex-token-registry/internal/eth"
	"dex-token-registry/internal/reconciler"
	"dex-token-registry/internal/storage"
	chstore "dex-token-registry/internal/storage/clickhouse"
	"dex-token-registry/internal/storage/memory"
	"dex-token-registry/internal/storage/migrations"
	pgstore "dex-token-registry/internal/storage/postgres"
	"dex-token-registry/internal/tcr"
)

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
	networks := make(endpointsFlag)
	exchanges := make(contractsFlag)
	registries := make(contractsFlag)

	flag.Var(networks, "network", "Network RPC endpoint as networkId=url (repeatable)")
	flag.Var(exchanges, "exchange", "Exchange contract as networkId=address (repeatable)")
	flag.Var(registries, "registry", "Curated registry contract as networkId=address (repeatable, optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the refresh audit log (empty to disable)")
	dryRun := flag.Bool("dry-run", false, "Reconcile against in-memory storage without persisting")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall run timeout")
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
	if !*dryRun && *postgresDSN == "" {
		logger.Error("--postgres-dsn is required (use --dry-run for in-memory storage)")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	clients, err := eth.DialClients(ctx, networks)
	if err != nil {
		logger.Error("dial RPC endpoints", tint.Err(err))
		os.Exit(1)
	}
	defer clients.Close()

	tokenStore, refreshLog, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *dryRun)
	if err != nil {
		logger.Error("create stores", tint.Err(err))
		os.Exit(1)
	}
	defer cleanup()

	callers := clients.Callers()
	var registry reconciler.Registry
	if len(registries) > 0 {
		registry = tcr.New(tcr.Options{Callers: callers, Contracts: registries})
	}

	syncer := reconciler.New(reconciler.Options{
		Store:      tokenStore,
		Exchange:   eth.NewExchangeClient(eth.ExchangeOptions{Callers: callers, Contracts: exchanges}),
		Resolver:   eth.NewERC20Resolver(eth.ResolverOptions{Callers: callers, ImageURLTemplate: *imageURL}),
		Registry:   registry,
		RefreshLog: refreshLog,
		Logger:     logger,
	})

	failed := 0
	for _, id := range sortedNetworkIDs(networks) {
		if err := syncer.Refresh(ctx, id); err != nil {
			failed++
			continue
		}
		logger.Info("network reconciled", "network", id, "tokens", len(syncer.Tokens(ctx, id)))
	}

	if failed > 0 {
		logger.Error("reconciliation incomplete", "failed", failed, "total", len(networks))
		os.Exit(1)
	}
}

func sortedNetworkIDs(networks endpointsFlag) []uint64 {
	ids := make([]uint64, 0, len(networks))
	for id := range networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// createStores builds the token store and the optional refresh audit log.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, dryRun bool) (storage.TokenStore, storage.RefreshLogStore, func(), error) {
	if dryRun {
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
