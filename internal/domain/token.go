package domain

import "github.com/ethereum/go-ethereum/common"

// TokenDetails is one cached token record, scoped to a single network.
// Corresponds to one row of the tokens table in PostgreSQL.
// Address is the primary key within a network's list.
type TokenDetails struct {
	Address  common.Address // ERC20 contract address, unique per network
	ID       int64          // slot id assigned by the exchange contract, may be stale
	Symbol   string
	Name     string
	Decimals uint8
	Image    string // display metadata, optional
}

// TokenList is an ordered list of tokens for one network.
type TokenList []TokenDetails

// Addresses returns the addresses of the list in order.
func (l TokenList) Addresses() []common.Address {
	addrs := make([]common.Address, len(l))
	for i, t := range l {
		addrs[i] = t.Address
	}
	return addrs
}

// ByAddress returns the list indexed by address.
func (l TokenList) ByAddress() map[common.Address]TokenDetails {
	m := make(map[common.Address]TokenDetails, len(l))
	for _, t := range l {
		m[t.Address] = t
	}
	return m
}
