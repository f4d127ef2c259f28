package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"dex-token-registry/internal/domain"
)

// stubSource serves fixed lists and records accessor calls. Test code
// fires registered subscribers directly to simulate a persist.
type stubSource struct {
	mu          sync.Mutex
	lists       map[uint64]domain.TokenList
	calls       []uint64
	subscribers []func(networkID uint64)
}

func newStubSource() *stubSource {
	return &stubSource{lists: make(map[uint64]domain.TokenList)}
}

func (s *stubSource) Tokens(_ context.Context, networkID uint64) domain.TokenList {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, networkID)
	return s.lists[networkID]
}

func (s *stubSource) Subscribe(fn func(networkID uint64)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
	return func() {}
}

func (s *stubSource) notify(networkID uint64) {
	s.mu.Lock()
	subs := append([]func(uint64){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(networkID)
	}
}

func (s *stubSource) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var testToken = domain.TokenDetails{
	Address:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	ID:       3,
	Symbol:   "AAA",
	Name:     "Token A",
	Decimals: 18,
}

func newTestServer(t *testing.T) (*httptest.Server, *stubSource) {
	t.Helper()
	source := newStubSource()
	srv := httptest.NewServer(NewServer(Options{Source: source}).Handler())
	t.Cleanup(srv.Close)
	return srv, source
}

func TestServer_Tokens(t *testing.T) {
	srv, source := newTestServer(t)
	source.lists[1] = domain.TokenList{testToken}

	resp, err := http.Get(srv.URL + "/tokens/1")
	if err != nil {
		t.Fatalf("GET /tokens/1: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.NetworkID != 1 || len(body.Tokens) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
	tok := body.Tokens[0]
	if tok.Address != testToken.Address.Hex() || tok.Symbol != "AAA" || tok.ID != 3 || tok.Decimals != 18 {
		t.Errorf("unexpected token: %+v", tok)
	}

	// The endpoint is the read-through accessor: exactly one source call.
	if n := source.callCount(); n != 1 {
		t.Errorf("expected 1 accessor call, got %d", n)
	}
}

func TestServer_TokensInvalidNetworkID(t *testing.T) {
	srv, source := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tokens/abc")
	if err != nil {
		t.Fatalf("GET /tokens/abc: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if source.callCount() != 0 {
		t.Error("expected no accessor call for invalid id")
	}
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscriber(t *testing.T, source *stubSource) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for source.subscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for websocket subscription")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_WebSocketPushesChanges(t *testing.T) {
	srv, source := newTestServer(t)
	source.lists[1] = domain.TokenList{testToken}

	conn := dialWS(t, srv, "/ws")
	waitForSubscriber(t, source)

	source.notify(1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame tokensResponse
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read push frame: %v", err)
	}
	if frame.NetworkID != 1 || len(frame.Tokens) != 1 || frame.Tokens[0].Symbol != "AAA" {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestServer_WebSocketNetworkFilter(t *testing.T) {
	srv, source := newTestServer(t)
	source.lists[1] = domain.TokenList{testToken}
	source.lists[2] = domain.TokenList{}

	conn := dialWS(t, srv, "/ws?networks=1")
	waitForSubscriber(t, source)

	// Filtered-out network first, then a subscribed one: only the latter
	// may arrive.
	source.notify(2)
	source.notify(1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame tokensResponse
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read push frame: %v", err)
	}
	if frame.NetworkID != 1 {
		t.Errorf("expected frame for network 1, got %d", frame.NetworkID)
	}
}

func TestServer_WebSocketInvalidFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?networks=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for invalid filter")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 handshake response, got %+v", resp)
	}
}
