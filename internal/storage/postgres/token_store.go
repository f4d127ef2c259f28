package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"dex-token-registry/internal/domain"
	"dex-token-registry/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
// Change notification is in-process: subscribers registered on this store
// are called after every successful PersistTokens.
type TokenStore struct {
	pool *Pool

	mu     sync.Mutex
	subs   map[int]func(networkID uint64)
	nextID int
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{
		pool: pool,
		subs: make(map[int]func(networkID uint64)),
	}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Tokens retrieves the cached list for a network, in persisted order.
// An unknown network yields an empty list.
func (s *TokenStore) Tokens(ctx context.Context, networkID uint64) (domain.TokenList, error) {
	query := `
		SELECT address, slot_id, symbol, name, decimals, image
		FROM tokens
		WHERE network_id = $1
		ORDER BY position ASC
	`

	rows, err := s.pool.Query(ctx, query, networkID)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	list := domain.TokenList{}
	for rows.Next() {
		var (
			t    domain.TokenDetails
			addr string
		)
		if err := rows.Scan(&addr, &t.ID, &t.Symbol, &t.Name, &t.Decimals, &t.Image); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Address = common.HexToAddress(addr)
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return list, nil
}

// PersistTokens overwrites the cached list for a network in one transaction
// and notifies subscribers.
func (s *TokenStore) PersistTokens(ctx context.Context, networkID uint64, list domain.TokenList) error {
	if list == nil {
		return storage.ErrInvalidInput
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tokens WHERE network_id = $1`, networkID); err != nil {
			return fmt.Errorf("delete tokens: %w", err)
		}

		for i, t := range list {
			_, err := tx.Exec(ctx, `
				INSERT INTO tokens (
					network_id, position, address, slot_id, symbol, name, decimals, image
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`,
				networkID,
				i,
				strings.ToLower(t.Address.Hex()),
				t.ID,
				t.Symbol,
				t.Name,
				t.Decimals,
				t.Image,
			)
			if err != nil {
				return fmt.Errorf("insert token %s: %w", t.Address.Hex(), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}

	s.notify(networkID)
	return nil
}

// Subscribe registers a callback invoked after every successful persist.
func (s *TokenStore) Subscribe(fn func(networkID uint64)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *TokenStore) notify(networkID uint64) {
	s.mu.Lock()
	subs := make([]func(uint64), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(networkID)
	}
}
