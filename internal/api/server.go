// Package api serves the read side of the token cache: a JSON endpoint
// for the current per-network list and a WebSocket endpoint pushing list
// changes as they are persisted.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"dex-token-registry/internal/domain"
	"dex-token-registry/internal/observability"
)

// TokenSource is the syncer surface the API reads from. Tokens is the
// read-through accessor: it returns immediately and arranges a background
// refresh on first access per network.
type TokenSource interface {
	Tokens(ctx context.Context, networkID uint64) domain.TokenList
	Subscribe(fn func(networkID uint64)) (unsubscribe func())
}

// Options contains configuration for creating a Server.
type Options struct {
	Source TokenSource
	Logger *slog.Logger
}

// Server is the HTTP read API.
type Server struct {
	source TokenSource
	logger *slog.Logger
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		source: opts.Source,
		logger: logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tokens/{networkId}", s.handleTokens)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

// tokenJSON is the wire shape of one token record.
type tokenJSON struct {
	Address  string `json:"address"`
	ID       int64  `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	Image    string `json:"image,omitempty"`
}

func toJSONList(list domain.TokenList) []tokenJSON {
	out := make([]tokenJSON, len(list))
	for i, t := range list {
		out[i] = tokenJSON{
			Address:  t.Address.Hex(),
			ID:       t.ID,
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			Image:    t.Image,
		}
	}
	return out
}

// tokensResponse is the body of GET /tokens/{networkId} and of one
// WebSocket push frame.
type tokensResponse struct {
	NetworkID uint64      `json:"networkId"`
	Tokens    []tokenJSON `json:"tokens"`
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	networkID, err := strconv.ParseUint(r.PathValue("networkId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid network id", http.StatusBadRequest)
		return
	}

	list := s.source.Tokens(r.Context(), networkID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokensResponse{
		NetworkID: networkID,
		Tokens:    toJSONList(list),
	}); err != nil {
		s.logger.Warn("write tokens response", "network", networkID, "err", err)
	}
}

// parseNetworkFilter reads the comma-separated networks query parameter.
// A nil result means no filter: every network's changes are delivered.
func parseNetworkFilter(raw string) (map[uint64]bool, error) {
	if raw == "" {
		return nil, nil
	}
	filter := make(map[uint64]bool)
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		filter[id] = true
	}
	return filter, nil
}
