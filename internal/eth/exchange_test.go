package eth

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// stubCaller answers contract calls through injectable handlers.
type stubCaller struct {
	callHandler func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	codeHandler func(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

func (s *stubCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return s.callHandler(ctx, msg, blockNumber)
}

func (s *stubCaller) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if s.codeHandler == nil {
		return []byte{0x60}, nil
	}
	return s.codeHandler(ctx, account, blockNumber)
}

func packOutputs(t *testing.T, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := exchangeABI.Methods[method].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s outputs: %v", method, err)
	}
	return out
}

var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newExchangeClient(caller ContractCaller) *ExchangeClient {
	return NewExchangeClient(ExchangeOptions{
		Callers:   map[uint64]ContractCaller{1: caller},
		Contracts: map[uint64]common.Address{1: exchangeAddr},
	})
}

func TestExchangeClient_HasToken(t *testing.T) {
	caller := &stubCaller{
		callHandler: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			if *msg.To != exchangeAddr {
				t.Errorf("call sent to %s, expected exchange contract", msg.To)
			}
			if !bytes.HasPrefix(msg.Data, exchangeABI.Methods["hasToken"].ID) {
				t.Errorf("unexpected selector %x", msg.Data[:4])
			}
			return packOutputs(t, "hasToken", true), nil
		},
	}

	has, err := newExchangeClient(caller).HasToken(context.Background(), 1, tokenAddr)
	if err != nil {
		t.Fatalf("HasToken: %v", err)
	}
	if !has {
		t.Error("expected token recognized")
	}
}

func TestExchangeClient_TokenIDByAddress(t *testing.T) {
	caller := &stubCaller{
		callHandler: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			if !bytes.HasPrefix(msg.Data, exchangeABI.Methods["tokenAddressToIdMap"].ID) {
				t.Errorf("unexpected selector %x", msg.Data[:4])
			}
			return packOutputs(t, "tokenAddressToIdMap", uint16(42)), nil
		},
	}

	id, err := newExchangeClient(caller).TokenIDByAddress(context.Background(), 1, tokenAddr)
	if err != nil {
		t.Fatalf("TokenIDByAddress: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
}

func TestExchangeClient_TokenAddressByID(t *testing.T) {
	caller := &stubCaller{
		callHandler: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			return packOutputs(t, "tokenIdToAddressMap", tokenAddr), nil
		},
	}

	addr, err := newExchangeClient(caller).TokenAddressByID(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("TokenAddressByID: %v", err)
	}
	if addr != tokenAddr {
		t.Errorf("expected %s, got %s", tokenAddr, addr)
	}
}

func TestExchangeClient_NumTokens(t *testing.T) {
	caller := &stubCaller{
		callHandler: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			return packOutputs(t, "numTokens", uint16(13)), nil
		},
	}

	n, err := newExchangeClient(caller).NumTokens(context.Background(), 1)
	if err != nil {
		t.Fatalf("NumTokens: %v", err)
	}
	if n != 13 {
		t.Errorf("expected 13 tokens, got %d", n)
	}
}

func TestExchangeClient_UnconfiguredNetwork(t *testing.T) {
	client := newExchangeClient(&stubCaller{})

	if _, err := client.NumTokens(context.Background(), 99); err == nil {
		t.Error("expected error for unconfigured network")
	}
}

func TestExchangeClient_TransportErrorPropagates(t *testing.T) {
	transportErr := errors.New("connection refused")
	caller := &stubCaller{
		callHandler: func(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			return nil, transportErr
		},
	}

	_, err := newExchangeClient(caller).HasToken(context.Background(), 1, tokenAddr)
	if !errors.Is(err, transportErr) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}
