// Package tcr reads the curated token registry contract that acts as the
// per-network allow-list.
package tcr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dex-token-registry/internal/eth"
)

// DefaultCallTimeout bounds a single eth_call.
const DefaultCallTimeout = 10 * time.Second

const registryABIJSON = `[
	{"type":"function","name":"getTokens","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]}
]`

var registryABI = mustParseABI(registryABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Options contains configuration for creating a ContractRegistry.
type Options struct {
	// Callers maps network id to a dialed RPC client.
	Callers map[uint64]eth.ContractCaller
	// Contracts maps network id to the registry contract address.
	// Networks without an entry have no curated list.
	Contracts map[uint64]common.Address
	// CallTimeout bounds each eth_call, default DefaultCallTimeout.
	CallTimeout time.Duration
}

// ContractRegistry serves the on-chain curated token list. An empty list
// means the network's registry is unpopulated and no filtering applies.
type ContractRegistry struct {
	callers   map[uint64]eth.ContractCaller
	contracts map[uint64]common.Address
	timeout   time.Duration
}

// New creates a new ContractRegistry.
func New(opts Options) *ContractRegistry {
	timeout := opts.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &ContractRegistry{
		callers:   opts.Callers,
		contracts: opts.Contracts,
		timeout:   timeout,
	}
}

// Tokens returns the curated list for the network. Networks without a
// configured registry contract report an empty list.
func (r *ContractRegistry) Tokens(ctx context.Context, networkID uint64) ([]common.Address, error) {
	contract, ok := r.contracts[networkID]
	if !ok {
		return nil, nil
	}
	caller, ok := r.callers[networkID]
	if !ok {
		return nil, fmt.Errorf("network %d: no RPC client configured", networkID)
	}

	data, err := registryABI.Pack("getTokens")
	if err != nil {
		return nil, fmt.Errorf("pack getTokens: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call getTokens on network %d: %w", networkID, err)
	}

	results, err := registryABI.Unpack("getTokens", out)
	if err != nil {
		return nil, fmt.Errorf("decode getTokens: %w", err)
	}
	return results[0].([]common.Address), nil
}
