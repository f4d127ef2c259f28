package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dex-token-registry/internal/domain"
	"dex-token-registry/internal/retry"
)

// refresh runs one reconciliation pass for a network. Failures are never
// propagated to the accessor caller: the pass is logged, audited and the
// update-attempted mark is cleared so the next access retries from scratch.
// The returned error only serves synchronous callers of Refresh.
func (s *Syncer) refresh(ctx context.Context, networkID uint64) error {
	start := time.Now()
	rec := &domain.RefreshRecord{
		NetworkID: networkID,
		Timestamp: start.UnixMilli(),
	}

	err := s.reconcile(ctx, networkID, rec)
	rec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		rec.Error = err.Error()
		s.tracker.Clear(networkID)
		s.logger.Error("reconciliation failed",
			"network", networkID, "kind", rec.Kind, "err", err)
		if s.metrics != nil {
			s.metrics.RefreshesFailed.WithLabelValues(string(rec.Kind)).Inc()
		}
	} else {
		s.logger.Info("reconciliation finished",
			"network", networkID, "kind", rec.Kind, "tokens", rec.TokensAfter,
			"added", rec.Added, "removed", rec.Removed, "failed", rec.Failed)
		if s.metrics != nil {
			s.metrics.RefreshesSucceeded.WithLabelValues(string(rec.Kind)).Inc()
			s.metrics.TokensCached.
				WithLabelValues(strconv.FormatUint(networkID, 10)).
				Set(float64(rec.TokensAfter))
		}
	}
	if s.metrics != nil {
		s.metrics.RefreshDuration.
			WithLabelValues(string(rec.Kind)).
			Observe(time.Since(start).Seconds())
	}

	s.audit(ctx, rec)
	return err
}

// reconcile fetches the on-chain token count and picks the reconciliation
// path: a count above the local list length means new tokens were listed
// and full metadata reconciliation runs; otherwise only ids and membership
// may have shifted and the id-only refresh runs.
//
// The size comparison cannot detect additions and removals that offset
// each other in count; that blind spot is kept for compatibility with the
// exchange contract's append-mostly listing behavior.
func (s *Syncer) reconcile(ctx context.Context, networkID uint64, rec *domain.RefreshRecord) error {
	var numTokens int
	err := retry.Do(ctx, func(ctx context.Context) error {
		n, err := s.exchange.NumTokens(ctx, networkID)
		if err == nil {
			numTokens = n
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch token count: %w", err)
	}

	local, err := s.store.Tokens(ctx, networkID)
	if err != nil {
		return fmt.Errorf("read token cache: %w", err)
	}
	rec.TokensBefore = len(local)
	rec.TokensAfter = len(local)

	if numTokens > len(local) {
		rec.Kind = domain.RefreshFull
		if s.metrics != nil {
			s.metrics.RefreshesStarted.WithLabelValues(string(rec.Kind)).Inc()
		}
		return s.reconcileFull(ctx, networkID, numTokens, local, rec)
	}

	rec.Kind = domain.RefreshIDs
	if s.metrics != nil {
		s.metrics.RefreshesStarted.WithLabelValues(string(rec.Kind)).Inc()
	}
	return s.refreshIDs(ctx, networkID, local, rec)
}

// reconcileFull rebuilds the network's list from the contract's token set:
// scan all slots, apply the allow-list, reuse cached records for known
// addresses and resolve metadata for newly eligible ones. The merged list
// is persisted unconditionally to capture pruning even when nothing new
// resolved.
func (s *Syncer) reconcileFull(ctx context.Context, networkID uint64, numTokens int, local domain.TokenList, rec *domain.RefreshRecord) error {
	var scanned map[common.Address]int64
	err := retry.Do(ctx, func(ctx context.Context) error {
		m, err := s.scanTokens(ctx, networkID, numTokens)
		if err == nil {
			scanned = m
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("scan exchange tokens: %w", err)
	}

	eligible, err := s.applyAllowList(ctx, networkID, scanned)
	if err != nil {
		return err
	}

	cached := local.ByAddress()

	// Known tokens keep their cached metadata; only the slot id is taken
	// from the fresh scan.
	known := make(domain.TokenList, 0, len(local))
	for _, t := range local {
		if id, ok := eligible[t.Address]; ok {
			t.ID = id
			known = append(known, t)
		}
	}

	var newAddrs []common.Address
	for addr := range eligible {
		if _, ok := cached[addr]; !ok {
			newAddrs = append(newAddrs, addr)
		}
	}
	// New tokens are appended in slot order for a stable output list.
	sort.Slice(newAddrs, func(i, j int) bool {
		return eligible[newAddrs[i]] < eligible[newAddrs[j]]
	})

	resolved := s.resolveMetadata(ctx, networkID, newAddrs, eligible)

	merged := append(known, resolved...)
	if err := s.store.PersistTokens(ctx, networkID, merged); err != nil {
		return fmt.Errorf("persist token list: %w", err)
	}

	rec.TokensAfter = len(merged)
	rec.Added = len(resolved)
	rec.Removed = len(local) - len(known)
	if s.metrics != nil {
		s.metrics.TokensAdded.Add(float64(rec.Added))
		s.metrics.TokensRemoved.Add(float64(rec.Removed))
	}
	return nil
}

// applyAllowList filters the scanned address→id map through the curated
// registry. Without a registry, or when the registry answers with an empty
// list, contract presence alone decides eligibility — stale cached
// addresses then fall out of the intersection with the scan.
func (s *Syncer) applyAllowList(ctx context.Context, networkID uint64, scanned map[common.Address]int64) (map[common.Address]int64, error) {
	if s.registry == nil {
		return scanned, nil
	}

	var allowed []common.Address
	err := retry.Do(ctx, func(ctx context.Context) error {
		list, err := s.registry.Tokens(ctx, networkID)
		if err == nil {
			allowed = list
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch allow-list: %w", err)
	}
	if len(allowed) == 0 {
		s.logger.Debug("allow-list empty, keeping all scanned tokens", "network", networkID)
		return scanned, nil
	}

	allowSet := make(map[common.Address]struct{}, len(allowed))
	for _, addr := range allowed {
		allowSet[addr] = struct{}{}
	}

	filtered := make(map[common.Address]int64, len(scanned))
	for addr, id := range scanned {
		_, onList := allowSet[addr]
		s.logger.Debug("exchange token checked against allow-list",
			"network", networkID, "address", addr, "allowed", onList)
		if onList {
			filtered[addr] = id
		}
	}
	return filtered, nil
}

// scanTokens resolves every contract slot to its address concurrently and
// builds the inverse address→slot map. The batch waits for every member;
// any slot failure fails the whole scan and the caller retries it as a
// unit.
func (s *Syncer) scanTokens(ctx context.Context, networkID uint64, numTokens int) (map[common.Address]int64, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		byAddr   = make(map[common.Address]int64, numTokens)
	)

	for id := 0; id < numTokens; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			addr, err := s.exchange.TokenAddressByID(ctx, networkID, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("slot %d: %w", id, err)
				}
				return
			}
			byAddr[addr] = id
		}(int64(id))
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return byAddr, nil
}

// probeOutcome classifies one metadata probe.
type probeOutcome int

const (
	probeResolved probeOutcome = iota
	probeNotAToken
	probeFailed
)

type probeResult struct {
	addr    common.Address
	outcome probeOutcome
	token   domain.TokenDetails
	err     error
}

// resolveMetadata probes the newly eligible addresses concurrently.
// Addresses that are not valid token contracts, and addresses whose probe
// failed transiently, are excluded from the result for this pass — there
// is no per-address retry.
func (s *Syncer) resolveMetadata(ctx context.Context, networkID uint64, addrs []common.Address, ids map[common.Address]int64) domain.TokenList {
	results := make([]probeResult, len(addrs))

	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()
			token, err := s.resolver.TokenFromERC20(ctx, networkID, addr)
			switch {
			case err != nil:
				results[i] = probeResult{addr: addr, outcome: probeFailed, err: err}
			case token == nil:
				results[i] = probeResult{addr: addr, outcome: probeNotAToken}
			default:
				t := *token
				t.Address = addr
				t.ID = ids[addr]
				results[i] = probeResult{addr: addr, outcome: probeResolved, token: t}
			}
		}(i, addr)
	}
	wg.Wait()

	resolved := make(domain.TokenList, 0, len(addrs))
	for _, r := range results {
		switch r.outcome {
		case probeResolved:
			resolved = append(resolved, r.token)
		case probeNotAToken:
			s.logger.Info("address is not a valid token, excluded",
				"network", networkID, "address", r.addr)
			if s.metrics != nil {
				s.metrics.TokensExcluded.Inc()
			}
		case probeFailed:
			s.logger.Warn("metadata probe failed, excluded for this pass",
				"network", networkID, "address", r.addr, "err", r.err)
			if s.metrics != nil {
				s.metrics.TokensExcluded.Inc()
			}
		}
	}
	return resolved
}

// audit writes the pass record to the refresh log when one is configured.
func (s *Syncer) audit(ctx context.Context, rec *domain.RefreshRecord) {
	if s.refreshLog == nil {
		return
	}
	if err := s.refreshLog.Insert(ctx, rec); err != nil {
		s.logger.Warn("write refresh audit record",
			"network", rec.NetworkID, "err", err)
	}
}
