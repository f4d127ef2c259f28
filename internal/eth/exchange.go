package eth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultCallTimeout bounds a single eth_call.
const DefaultCallTimeout = 10 * time.Second

// View surface of the exchange contract.
const exchangeABIJSON = `[
	{"type":"function","name":"hasToken","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"tokenAddressToIdMap","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"type":"uint16"}]},
	{"type":"function","name":"tokenIdToAddressMap","stateMutability":"view","inputs":[{"name":"id","type":"uint16"}],"outputs":[{"type":"address"}]},
	{"type":"function","name":"numTokens","stateMutability":"view","inputs":[],"outputs":[{"type":"uint16"}]}
]`

var exchangeABI = mustParseABI(exchangeABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ExchangeOptions contains configuration for creating an ExchangeClient.
type ExchangeOptions struct {
	// Callers maps network id to a dialed RPC client.
	Callers map[uint64]ContractCaller
	// Contracts maps network id to the exchange contract address.
	Contracts map[uint64]common.Address
	// CallTimeout bounds each eth_call, default DefaultCallTimeout.
	CallTimeout time.Duration
}

// ExchangeClient answers token-set queries against the per-network
// exchange contract. It implements reconciler.Exchange.
type ExchangeClient struct {
	callers   map[uint64]ContractCaller
	contracts map[uint64]common.Address
	timeout   time.Duration
}

// NewExchangeClient creates a new ExchangeClient.
func NewExchangeClient(opts ExchangeOptions) *ExchangeClient {
	timeout := opts.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &ExchangeClient{
		callers:   opts.Callers,
		contracts: opts.Contracts,
		timeout:   timeout,
	}
}

// HasToken reports whether the exchange contract recognizes the address.
func (c *ExchangeClient) HasToken(ctx context.Context, networkID uint64, addr common.Address) (bool, error) {
	out, err := c.call(ctx, networkID, "hasToken", addr)
	if err != nil {
		return false, err
	}
	results, err := exchangeABI.Unpack("hasToken", out)
	if err != nil {
		return false, fmt.Errorf("decode hasToken: %w", err)
	}
	return results[0].(bool), nil
}

// TokenIDByAddress returns the contract's slot id for the address.
func (c *ExchangeClient) TokenIDByAddress(ctx context.Context, networkID uint64, addr common.Address) (int64, error) {
	out, err := c.call(ctx, networkID, "tokenAddressToIdMap", addr)
	if err != nil {
		return 0, err
	}
	results, err := exchangeABI.Unpack("tokenAddressToIdMap", out)
	if err != nil {
		return 0, fmt.Errorf("decode tokenAddressToIdMap: %w", err)
	}
	return int64(results[0].(uint16)), nil
}

// TokenAddressByID returns the address registered at the slot id.
func (c *ExchangeClient) TokenAddressByID(ctx context.Context, networkID uint64, id int64) (common.Address, error) {
	out, err := c.call(ctx, networkID, "tokenIdToAddressMap", uint16(id))
	if err != nil {
		return common.Address{}, err
	}
	results, err := exchangeABI.Unpack("tokenIdToAddressMap", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode tokenIdToAddressMap: %w", err)
	}
	return results[0].(common.Address), nil
}

// NumTokens returns the size of the contract's token set.
func (c *ExchangeClient) NumTokens(ctx context.Context, networkID uint64) (int, error) {
	out, err := c.call(ctx, networkID, "numTokens")
	if err != nil {
		return 0, err
	}
	results, err := exchangeABI.Unpack("numTokens", out)
	if err != nil {
		return 0, fmt.Errorf("decode numTokens: %w", err)
	}
	return int(results[0].(uint16)), nil
}

func (c *ExchangeClient) call(parentCtx context.Context, networkID uint64, method string, args ...interface{}) ([]byte, error) {
	caller, ok := c.callers[networkID]
	if !ok {
		return nil, fmt.Errorf("network %d: no RPC client configured", networkID)
	}
	contract, ok := c.contracts[networkID]
	if !ok {
		return nil, fmt.Errorf("network %d: no exchange contract configured", networkID)
	}

	data, err := exchangeABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s on network %d: %w", method, networkID, err)
	}
	return out, nil
}
