package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"dex-token-registry/internal/domain"
)

// ErrNotAToken marks a probe that concluded the address does not host a
// fungible token contract. Callers of the probe helpers translate it to a
// nil result; it never escapes TokenFromERC20.
var ErrNotAToken = errors.New("address is not a token contract")

const erc20ABIJSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

// ResolverOptions contains configuration for creating an ERC20Resolver.
type ResolverOptions struct {
	// Callers maps network id to a dialed RPC client.
	Callers map[uint64]ContractCaller
	// ImageURLTemplate, when set, is formatted with the checksummed token
	// address to produce the display image URL. Empty leaves Image unset.
	ImageURLTemplate string
	// CallTimeout bounds each eth_call, default DefaultCallTimeout.
	CallTimeout time.Duration
}

// ERC20Resolver resolves token metadata by probing the ERC20 view
// functions of a contract.
type ERC20Resolver struct {
	callers  map[uint64]ContractCaller
	imageURL string
	timeout  time.Duration
}

// NewERC20Resolver creates a new ERC20Resolver.
func NewERC20Resolver(opts ResolverOptions) *ERC20Resolver {
	timeout := opts.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &ERC20Resolver{
		callers:  opts.Callers,
		imageURL: opts.ImageURLTemplate,
		timeout:  timeout,
	}
}

// TokenFromERC20 probes name, symbol and decimals at the address. A nil
// record with a nil error means the address is not a token contract: no
// deployed code, a reverting probe or undecodable metadata. Any returned
// error is a transient transport failure.
func (r *ERC20Resolver) TokenFromERC20(ctx context.Context, networkID uint64, addr common.Address) (*domain.TokenDetails, error) {
	caller, ok := r.callers[networkID]
	if !ok {
		return nil, fmt.Errorf("network %d: no RPC client configured", networkID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	code, err := caller.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch code at %s: %w", addr, err)
	}
	if len(code) == 0 {
		return nil, nil
	}

	name, err := r.probeString(ctx, caller, addr, "name")
	if err != nil {
		return r.notATokenOrErr(err)
	}
	symbol, err := r.probeString(ctx, caller, addr, "symbol")
	if err != nil {
		return r.notATokenOrErr(err)
	}
	decimals, err := r.probeDecimals(ctx, caller, addr)
	if err != nil {
		return r.notATokenOrErr(err)
	}

	t := &domain.TokenDetails{
		Address:  addr,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}
	if r.imageURL != "" {
		t.Image = fmt.Sprintf(r.imageURL, addr.Hex())
	}
	return t, nil
}

func (r *ERC20Resolver) notATokenOrErr(err error) (*domain.TokenDetails, error) {
	if errors.Is(err, ErrNotAToken) {
		return nil, nil
	}
	return nil, err
}

// probeString calls a view returning a string. Tokens predating the ERC20
// string convention return the value as right-padded bytes32; both
// encodings are accepted.
func (r *ERC20Resolver) probeString(ctx context.Context, caller ContractCaller, addr common.Address, method string) (string, error) {
	out, err := r.view(ctx, caller, addr, method)
	if err != nil {
		return "", err
	}

	results, err := erc20ABI.Unpack(method, out)
	if err == nil {
		return results[0].(string), nil
	}
	if len(out) == 32 {
		return strings.TrimRight(string(out), "\x00"), nil
	}
	return "", fmt.Errorf("%s at %s: undecodable response: %w", method, addr, ErrNotAToken)
}

func (r *ERC20Resolver) probeDecimals(ctx context.Context, caller ContractCaller, addr common.Address) (uint8, error) {
	out, err := r.view(ctx, caller, addr, "decimals")
	if err != nil {
		return 0, err
	}

	results, err := erc20ABI.Unpack("decimals", out)
	if err == nil {
		return results[0].(uint8), nil
	}
	v := new(big.Int).SetBytes(out)
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals at %s: undecodable response: %w", addr, ErrNotAToken)
	}
	return uint8(v.Uint64()), nil
}

func (r *ERC20Resolver) view(ctx context.Context, caller ContractCaller, addr common.Address, method string) ([]byte, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s at %s reverted: %w", method, addr, ErrNotAToken)
		}
		return nil, fmt.Errorf("eth_call %s at %s: %w", method, addr, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s at %s: empty response: %w", method, addr, ErrNotAToken)
	}
	return out, nil
}

// isRevert reports whether an eth_call error is an execution revert
// rather than a transport failure. Node implementations disagree on the
// error shape, so the message text is the only portable signal.
func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}
