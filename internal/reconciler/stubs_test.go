package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dex-token-registry/internal/domain"
)

var errTransport = errors.New("transport error")

// stubExchange serves a fixed address→slot view per network, with
// injectable per-address failures.
type stubExchange struct {
	mu sync.Mutex

	// tokens maps network → address → slot id.
	tokens map[uint64]map[common.Address]int64

	// hasTokenFailures/idFailures make the corresponding query fail this
	// many times before succeeding. -1 fails forever.
	hasTokenFailures map[common.Address]int
	idFailures       map[common.Address]int

	// slotFailures makes TokenAddressByID fail this many times per slot.
	slotFailures map[int64]int

	numTokensErr   error
	numTokensCalls int
	scanCalls      int
}

func newStubExchange() *stubExchange {
	return &stubExchange{
		tokens:           make(map[uint64]map[common.Address]int64),
		hasTokenFailures: make(map[common.Address]int),
		idFailures:       make(map[common.Address]int),
		slotFailures:     make(map[int64]int),
	}
}

func (e *stubExchange) setTokens(networkID uint64, tokens map[common.Address]int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens[networkID] = tokens
}

func (e *stubExchange) consumeFailure(m map[common.Address]int, addr common.Address) bool {
	n, ok := m[addr]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[addr] = n - 1
	}
	return true
}

func (e *stubExchange) HasToken(_ context.Context, networkID uint64, addr common.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumeFailure(e.hasTokenFailures, addr) {
		return false, errTransport
	}
	_, ok := e.tokens[networkID][addr]
	return ok, nil
}

func (e *stubExchange) TokenIDByAddress(_ context.Context, networkID uint64, addr common.Address) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumeFailure(e.idFailures, addr) {
		return 0, errTransport
	}
	id, ok := e.tokens[networkID][addr]
	if !ok {
		return 0, fmt.Errorf("token %s not registered", addr.Hex())
	}
	return id, nil
}

func (e *stubExchange) TokenAddressByID(_ context.Context, networkID uint64, id int64) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == 0 {
		e.scanCalls++
	}
	if n := e.slotFailures[id]; n != 0 {
		if n > 0 {
			e.slotFailures[id] = n - 1
		}
		return common.Address{}, errTransport
	}
	for addr, slot := range e.tokens[networkID] {
		if slot == id {
			return addr, nil
		}
	}
	return common.Address{}, fmt.Errorf("no token at slot %d", id)
}

func (e *stubExchange) NumTokens(_ context.Context, networkID uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.numTokensCalls++
	if e.numTokensErr != nil {
		return 0, e.numTokensErr
	}
	return len(e.tokens[networkID]), nil
}

var _ Exchange = (*stubExchange)(nil)

// stubResolver resolves metadata from a fixed table. Addresses in
// notAToken probe as invalid; addresses in failures fail transiently.
type stubResolver struct {
	mu        sync.Mutex
	metadata  map[common.Address]domain.TokenDetails
	notAToken map[common.Address]bool
	failures  map[common.Address]bool
	calls     []common.Address
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		metadata:  make(map[common.Address]domain.TokenDetails),
		notAToken: make(map[common.Address]bool),
		failures:  make(map[common.Address]bool),
	}
}

func (r *stubResolver) TokenFromERC20(_ context.Context, _ uint64, addr common.Address) (*domain.TokenDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, addr)

	if r.failures[addr] {
		return nil, errTransport
	}
	if r.notAToken[addr] {
		return nil, nil
	}
	t, ok := r.metadata[addr]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *stubResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var _ MetadataResolver = (*stubResolver)(nil)

// stubRegistry serves a fixed allow-list per network.
type stubRegistry struct {
	mu    sync.Mutex
	lists map[uint64][]common.Address
	err   error
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{lists: make(map[uint64][]common.Address)}
}

func (r *stubRegistry) Tokens(_ context.Context, networkID uint64) ([]common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.lists[networkID], nil
}

var _ Registry = (*stubRegistry)(nil)

// stubRefreshLog collects audit records in memory.
type stubRefreshLog struct {
	mu      sync.Mutex
	records []*domain.RefreshRecord
}

func (l *stubRefreshLog) Insert(_ context.Context, r *domain.RefreshRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}

func (l *stubRefreshLog) GetByNetwork(_ context.Context, networkID uint64) ([]*domain.RefreshRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.RefreshRecord
	for _, r := range l.records {
		if r.NetworkID == networkID {
			out = append(out, r)
		}
	}
	return out, nil
}
