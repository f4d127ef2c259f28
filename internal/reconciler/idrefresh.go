package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dex-token-registry/internal/domain"
)

// idCheckState classifies one per-token contract query.
type idCheckState int

const (
	idUpdated idCheckState = iota // recognized, id refreshed
	idRemoved                     // contract no longer recognizes the address
	idFailed                      // query failed, token retained for this pass
)

type idCheck struct {
	token domain.TokenDetails // refreshed copy when state == idUpdated
	state idCheckState
	err   error
}

// idCheckGroups holds the three disjoint result groups of one fan-out.
type idCheckGroups struct {
	updated map[common.Address]domain.TokenDetails
	removed map[common.Address]struct{}
	failed  domain.TokenList
}

// refreshIDs runs an id-only refresh over the cached list: every token is
// checked against the contract concurrently, the list is rebuilt and
// persisted when anything was removed or refreshed, and the failed subset
// is rescheduled with exponential backoff without blocking the caller.
func (s *Syncer) refreshIDs(ctx context.Context, networkID uint64, local domain.TokenList, rec *domain.RefreshRecord) error {
	groups := s.checkTokenIDs(ctx, networkID, local)
	rec.Removed = len(groups.removed)
	rec.Failed = len(groups.failed)

	if len(groups.updated)+len(groups.removed) > 0 {
		rebuilt := rebuildList(local, groups)
		if err := s.store.PersistTokens(ctx, networkID, rebuilt); err != nil {
			return fmt.Errorf("persist token list: %w", err)
		}
		rec.TokensAfter = len(rebuilt)
		if s.metrics != nil {
			s.metrics.TokensRemoved.Add(float64(len(groups.removed)))
		}
	}

	if len(groups.failed) > 0 {
		s.scheduleIDRetry(networkID, groups.failed, s.retryDelay, 1)
	}
	return nil
}

// checkTokenIDs queries every token concurrently and classifies the
// results into the three disjoint groups. The batch waits for every
// member; partial success is expected and handled.
func (s *Syncer) checkTokenIDs(ctx context.Context, networkID uint64, tokens domain.TokenList) idCheckGroups {
	checks := make([]idCheck, len(tokens))

	var wg sync.WaitGroup
	for i, t := range tokens {
		wg.Add(1)
		go func(i int, t domain.TokenDetails) {
			defer wg.Done()
			checks[i] = s.checkTokenID(ctx, networkID, t)
		}(i, t)
	}
	wg.Wait()

	groups := idCheckGroups{
		updated: make(map[common.Address]domain.TokenDetails),
		removed: make(map[common.Address]struct{}),
	}
	for i, c := range checks {
		switch c.state {
		case idUpdated:
			groups.updated[c.token.Address] = c.token
		case idRemoved:
			s.logger.Info("token no longer recognized by exchange",
				"network", networkID, "address", tokens[i].Address)
			groups.removed[tokens[i].Address] = struct{}{}
		case idFailed:
			s.logger.Warn("id check failed",
				"network", networkID, "address", tokens[i].Address, "err", c.err)
			groups.failed = append(groups.failed, tokens[i])
			if s.metrics != nil {
				s.metrics.IDCheckFailures.Inc()
			}
		}
	}
	return groups
}

// checkTokenID queries whether the contract still recognizes the token and
// refreshes its slot id.
func (s *Syncer) checkTokenID(ctx context.Context, networkID uint64, t domain.TokenDetails) idCheck {
	has, err := s.exchange.HasToken(ctx, networkID, t.Address)
	if err != nil {
		return idCheck{state: idFailed, err: err}
	}
	if !has {
		return idCheck{state: idRemoved}
	}

	id, err := s.exchange.TokenIDByAddress(ctx, networkID, t.Address)
	if err != nil {
		return idCheck{state: idFailed, err: err}
	}
	t.ID = id
	return idCheck{token: t, state: idUpdated}
}

// rebuildList drops removed addresses and substitutes refreshed records,
// preserving list order. Failed tokens are retained unchanged.
func rebuildList(local domain.TokenList, groups idCheckGroups) domain.TokenList {
	rebuilt := make(domain.TokenList, 0, len(local))
	for _, t := range local {
		if _, ok := groups.removed[t.Address]; ok {
			continue
		}
		if upd, ok := groups.updated[t.Address]; ok {
			rebuilt = append(rebuilt, upd)
			continue
		}
		rebuilt = append(rebuilt, t)
	}
	return rebuilt
}

// scheduleIDRetry re-runs the failed subset after delay, doubling the
// delay each round. Scheduling is fire-and-forget; exceeding the round
// bound abandons the batch with ErrRetriesExhausted.
func (s *Syncer) scheduleIDRetry(networkID uint64, batch domain.TokenList, delay time.Duration, round int) {
	if round > s.maxRetryRounds {
		s.logger.Error("id refresh abandoned",
			"network", networkID, "tokens", len(batch),
			"rounds", s.maxRetryRounds, "err", ErrRetriesExhausted)
		if s.metrics != nil {
			s.metrics.IDRetriesExhausted.Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.IDRetryRounds.Inc()
	}
	s.schedule(delay, func() {
		ctx := context.Background()
		groups := s.checkTokenIDs(ctx, networkID, batch)

		if len(groups.updated)+len(groups.removed) > 0 {
			current, err := s.store.Tokens(ctx, networkID)
			if err != nil {
				s.logger.Error("read token cache for id retry",
					"network", networkID, "err", err)
			} else if err := s.store.PersistTokens(ctx, networkID, rebuildList(current, groups)); err != nil {
				s.logger.Error("persist token list after id retry",
					"network", networkID, "err", err)
			}
		}

		if len(groups.failed) > 0 {
			s.scheduleIDRetry(networkID, groups.failed, delay*2, round+1)
		}
	})
}
