// Package eth provides the go-ethereum backed collaborators of the
// reconciler: per-network RPC clients, the exchange contract accessor and
// the ERC20 metadata prober.
package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractCaller is the read-only node surface the contract accessors
// need. *ethclient.Client satisfies it; tests substitute a stub.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Clients holds one dialed RPC client per network id.
type Clients struct {
	byNetwork map[uint64]*ethclient.Client
}

// DialClients dials every configured endpoint once. Endpoints map network
// id to an RPC URL. A single failed dial fails the whole set; already
// dialed clients are closed.
func DialClients(ctx context.Context, endpoints map[uint64]string) (*Clients, error) {
	c := &Clients{byNetwork: make(map[uint64]*ethclient.Client, len(endpoints))}
	for networkID, url := range endpoints {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("dial network %d: %w", networkID, err)
		}
		c.byNetwork[networkID] = client
	}
	return c, nil
}

// Client returns the dialed client for the network, or nil when the
// network is not configured.
func (c *Clients) Client(networkID uint64) *ethclient.Client {
	return c.byNetwork[networkID]
}

// Callers returns the client set as the interface map the contract
// accessors consume.
func (c *Clients) Callers() map[uint64]ContractCaller {
	out := make(map[uint64]ContractCaller, len(c.byNetwork))
	for networkID, client := range c.byNetwork {
		out[networkID] = client
	}
	return out
}

// NetworkIDs returns the configured network ids.
func (c *Clients) NetworkIDs() []uint64 {
	ids := make([]uint64, 0, len(c.byNetwork))
	for id := range c.byNetwork {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every dialed client.
func (c *Clients) Close() {
	for _, client := range c.byNetwork {
		client.Close()
	}
}
