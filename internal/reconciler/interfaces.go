package reconciler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"dex-token-registry/internal/domain"
)

// Exchange enumerates and resolves the tokens registered in the on-chain
// exchange contract for a network. All methods may fail with a
// transport-level error.
type Exchange interface {
	// HasToken reports whether the contract currently recognizes addr.
	HasToken(ctx context.Context, networkID uint64, addr common.Address) (bool, error)

	// TokenIDByAddress resolves the slot id the contract assigns to addr.
	TokenIDByAddress(ctx context.Context, networkID uint64, addr common.Address) (int64, error)

	// TokenAddressByID resolves the address registered at slot id.
	TokenAddressByID(ctx context.Context, networkID uint64, id int64) (common.Address, error)

	// NumTokens returns the number of tokens currently registered.
	NumTokens(ctx context.Context, networkID uint64) (int, error)
}

// Registry is an optional curated allow-list of token addresses.
// An empty result means the list does not constrain eligibility.
type Registry interface {
	Tokens(ctx context.Context, networkID uint64) ([]common.Address, error)
}

// MetadataResolver probes an address as a standard fungible-token contract.
// A (nil, nil) return means the probe concluded the address is not a valid
// token; any error is a transient failure.
type MetadataResolver interface {
	TokenFromERC20(ctx context.Context, networkID uint64, addr common.Address) (*domain.TokenDetails, error)
}
