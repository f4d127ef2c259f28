package clickhouse

import (
	"context"
	"fmt"

	"dex-token-registry/internal/domain"
	"dex-token-registry/internal/storage"
)

// RefreshLogStore implements storage.RefreshLogStore using ClickHouse.
type RefreshLogStore struct {
	conn *Conn
}

// NewRefreshLogStore creates a new RefreshLogStore.
func NewRefreshLogStore(conn *Conn) *RefreshLogStore {
	return &RefreshLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RefreshLogStore = (*RefreshLogStore)(nil)

// Insert appends one refresh record.
func (s *RefreshLogStore) Insert(ctx context.Context, r *domain.RefreshRecord) error {
	if r == nil {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO refresh_log (
			network_id, kind, tokens_before, tokens_after,
			added, removed, failed, duration_ms, error, timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.NetworkID,
		string(r.Kind),
		int32(r.TokensBefore),
		int32(r.TokensAfter),
		int32(r.Added),
		int32(r.Removed),
		int32(r.Failed),
		r.DurationMs,
		r.Error,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert refresh record: %w", err)
	}
	return nil
}

// GetByNetwork retrieves all records for a network, ordered by timestamp ASC.
func (s *RefreshLogStore) GetByNetwork(ctx context.Context, networkID uint64) ([]*domain.RefreshRecord, error) {
	query := `
		SELECT network_id, kind, tokens_before, tokens_after,
		       added, removed, failed, duration_ms, error, timestamp_ms
		FROM refresh_log
		WHERE network_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, networkID)
	if err != nil {
		return nil, fmt.Errorf("query refresh log: %w", err)
	}
	defer rows.Close()

	var records []*domain.RefreshRecord
	for rows.Next() {
		var (
			r                                     domain.RefreshRecord
			kind                                  string
			before, after, added, removed, failed int32
		)
		err := rows.Scan(
			&r.NetworkID, &kind, &before, &after,
			&added, &removed, &failed, &r.DurationMs, &r.Error, &r.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan refresh record: %w", err)
		}
		r.Kind = domain.RefreshKind(kind)
		r.TokensBefore = int(before)
		r.TokensAfter = int(after)
		r.Added = int(added)
		r.Removed = int(removed)
		r.Failed = int(failed)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh log: %w", err)
	}
	return records, nil
}
