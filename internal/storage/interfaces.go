package storage

import (
	"context"

	"dex-token-registry/internal/domain"
)

// TokenStore provides access to the per-network token list cache.
type TokenStore interface {
	// Tokens retrieves the cached list for a network, in persisted order.
	// An unknown network yields an empty list, not an error.
	Tokens(ctx context.Context, networkID uint64) (domain.TokenList, error)

	// PersistTokens overwrites the cached list for a network, preserving
	// the order of the given list. Subscribers are notified after the
	// write succeeds.
	PersistTokens(ctx context.Context, networkID uint64, list domain.TokenList) error

	// Subscribe registers a callback invoked with the network id after
	// every successful PersistTokens. The returned function removes the
	// subscription.
	Subscribe(fn func(networkID uint64)) (unsubscribe func())
}

// RefreshLogStore records the outcome of reconciliation passes.
type RefreshLogStore interface {
	// Insert appends one refresh record.
	Insert(ctx context.Context, r *domain.RefreshRecord) error

	// GetByNetwork retrieves all records for a network, ordered by
	// timestamp ASC.
	GetByNetwork(ctx context.Context, networkID uint64) ([]*domain.RefreshRecord, error)
}
