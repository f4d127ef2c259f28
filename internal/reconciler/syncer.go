// Package reconciler keeps the per-network token list cache consistent
// with the on-chain exchange contract. It decides per network between a
// full metadata reconciliation and a lightweight id-only refresh, runs the
// chosen pass in the background and persists the merged result.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dex-token-registry/internal/domain"
	"dex-token-registry/internal/observability"
	"dex-token-registry/internal/storage"
)

// ErrRetriesExhausted is reported when an id-refresh batch still fails
// after the configured number of retry rounds.
var ErrRetriesExhausted = errors.New("id refresh retries exhausted")

// Default configuration values.
const (
	DefaultMaxRetryRounds = 3
	DefaultRetryDelay     = 1 * time.Second
	DefaultQueueSize      = 64
)

// Options contains configuration for creating a Syncer.
type Options struct {
	// Required collaborators
	Store    storage.TokenStore
	Exchange Exchange
	Resolver MetadataResolver

	// Optional collaborators
	Registry   Registry                // curated allow-list, nil = unconfigured
	RefreshLog storage.RefreshLogStore // audit sink, nil disables auditing
	Metrics    *observability.Metrics  // nil disables metrics
	Logger     *slog.Logger

	MaxRetryRounds int           // id-refresh retry rounds, default 3
	RetryDelay     time.Duration // initial id-refresh backoff delay, default 1s
	QueueSize      int           // refresh job queue capacity, default 64
}

// Syncer is the reconciliation orchestrator and the public read-through
// entry point to the token list cache.
type Syncer struct {
	store      storage.TokenStore
	exchange   Exchange
	resolver   MetadataResolver
	registry   Registry
	refreshLog storage.RefreshLogStore
	metrics    *observability.Metrics
	logger     *slog.Logger

	maxRetryRounds int
	retryDelay     time.Duration

	tracker *updateTracker
	jobs    chan uint64

	// schedule defaults to time.AfterFunc; tests substitute it to observe
	// backoff delays deterministically.
	schedule func(d time.Duration, fn func())
}

// New creates a new Syncer.
func New(opts Options) *Syncer {
	maxRetryRounds := opts.MaxRetryRounds
	if maxRetryRounds == 0 {
		maxRetryRounds = DefaultMaxRetryRounds
	}

	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}

	queueSize := opts.QueueSize
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		store:          opts.Store,
		exchange:       opts.Exchange,
		resolver:       opts.Resolver,
		registry:       opts.Registry,
		refreshLog:     opts.RefreshLog,
		metrics:        opts.Metrics,
		logger:         logger,
		maxRetryRounds: maxRetryRounds,
		retryDelay:     retryDelay,
		tracker:        newUpdateTracker(),
		jobs:           make(chan uint64, queueSize),
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Run consumes the refresh job queue until the context is cancelled.
// Each job runs in its own goroutine so networks refresh independently.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("reconciler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciler stopped")
			return ctx.Err()
		case networkID := <-s.jobs:
			go s.refresh(ctx, networkID)
		}
	}
}

// Tokens returns the currently cached list for the network immediately.
// The first call for a network enqueues a background refresh; the call
// never blocks on network activity and never surfaces an error, degrading
// to a stale (or empty) list instead.
func (s *Syncer) Tokens(ctx context.Context, networkID uint64) domain.TokenList {
	list, err := s.store.Tokens(ctx, networkID)
	if err != nil {
		s.logger.Error("read token cache", "network", networkID, "err", err)
		list = domain.TokenList{}
	}
	s.trigger(networkID)
	return list
}

// Refresh runs one reconciliation pass for the network synchronously.
// When a background refresh for the network is already in flight the call
// is a no-op. Used by the one-shot binary.
func (s *Syncer) Refresh(ctx context.Context, networkID uint64) error {
	if !s.tracker.TryMark(networkID) {
		return nil
	}
	return s.refresh(ctx, networkID)
}

// Subscribe registers a callback invoked with the network id after every
// cache change. The returned function removes the subscription.
func (s *Syncer) Subscribe(fn func(networkID uint64)) (unsubscribe func()) {
	return s.store.Subscribe(fn)
}

// trigger enqueues a refresh for the network unless one was already
// attempted in this process lifetime.
func (s *Syncer) trigger(networkID uint64) {
	if !s.tracker.TryMark(networkID) {
		return
	}
	select {
	case s.jobs <- networkID:
	default:
		// Queue full: re-arm so a later accessor call retries.
		s.tracker.Clear(networkID)
		s.logger.Warn("refresh queue full, trigger dropped", "network", networkID)
	}
}
