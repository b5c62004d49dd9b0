// Package apiserver serves the indexed vault listings and live market quotes
// over HTTP.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/logging"
	"github.com/slide-labs/slide-socialfi/internal/pricing"
	"github.com/slide-labs/slide-socialfi/internal/store"
)

type VaultStore interface {
	ListVaults(ctx context.Context, limit int) ([]store.VaultRecord, error)
	GetVault(ctx context.Context, address string) (store.VaultRecord, error)
	VaultHistory(ctx context.Context, address string, limit int) ([]store.SnapshotRecord, error)
	TotalTVL(ctx context.Context) (decimal.Decimal, int, error)
}

// Quoter returns the live best bid and ask of a perp market.
type Quoter interface {
	BestBidAsk(symbol string) (pricing.BidAsk, bool)
}

type Service struct {
	cfg              config.APIServerConfig
	logger           *slog.Logger
	store            VaultStore
	quoter           Quoter
	allowAllOrigins  bool
	allowedOriginSet map[string]struct{}
}

func New(cfg config.APIServerConfig, vaults VaultStore, quoter Quoter, logger *slog.Logger) *Service {
	allowAllOrigins := false
	allowedOriginSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAllOrigins = true
			continue
		}
		allowedOriginSet[trimmed] = struct{}{}
	}
	if len(allowedOriginSet) == 0 && !allowAllOrigins {
		allowAllOrigins = true
	}

	return &Service{
		cfg:              cfg,
		logger:           logging.OrDiscard(logger),
		store:            vaults,
		quoter:           quoter,
		allowAllOrigins:  allowAllOrigins,
		allowedOriginSet: allowedOriginSet,
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/vaults", s.handleVaults)
	mux.HandleFunc("/api/v1/vaults/tvl", s.handleTVL)
	mux.HandleFunc("/api/v1/vaults/{address}", s.handleVault)
	mux.HandleFunc("/api/v1/vaults/{address}/history", s.handleVaultHistory)
	mux.HandleFunc("/api/v1/markets/{symbol}/bbo", s.handleBBO)
	return s.withCORS(mux)
}

func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"env", s.cfg.Env.Name,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Limit int `json:"limit"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type tvlResponse struct {
	TVL    decimal.Decimal `json:"tvl"`
	Vaults int             `json:"vaults"`
}

type bboResponse struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Mid    decimal.Decimal `json:"mid"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Service) handleVaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	limit, err := parseOptionalInt(r, "limit", 100)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.store.ListVaults(r.Context(), limit)
	if err != nil {
		s.logger.Error("list vaults failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list vaults")
		return
	}
	if items == nil {
		items = []store.VaultRecord{}
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.VaultRecord]{Items: items, Limit: limit})
}

func (s *Service) handleTVL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	total, count, err := s.store.TotalTVL(r.Context())
	if err != nil {
		s.logger.Error("total tvl failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to compute tvl")
		return
	}
	s.respondJSON(w, http.StatusOK, tvlResponse{TVL: total, Vaults: count})
}

func (s *Service) handleVault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	address, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	item, err := s.store.GetVault(r.Context(), address)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "vault not found")
		return
	}
	if err != nil {
		s.logger.Error("get vault failed", "address", address, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load vault")
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Service) handleVaultHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	address, ok := s.pathAddress(w, r)
	if !ok {
		return
	}
	limit, err := parseOptionalInt(r, "limit", 120)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.store.VaultHistory(r.Context(), address, limit)
	if err != nil {
		s.logger.Error("vault history failed", "address", address, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load vault history")
		return
	}
	if items == nil {
		items = []store.SnapshotRecord{}
	}
	s.respondJSON(w, http.StatusOK, listResponse[store.SnapshotRecord]{Items: items, Limit: limit})
}

func (s *Service) handleBBO(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	if s.quoter == nil {
		s.respondError(w, http.StatusServiceUnavailable, "live quotes disabled")
		return
	}
	quote, ok := s.quoter.BestBidAsk(symbol)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no quote for "+symbol)
		return
	}
	s.respondJSON(w, http.StatusOK, bboResponse{Symbol: symbol, Bid: quote.Bid, Ask: quote.Ask, Mid: quote.Mid()})
}

func (s *Service) pathAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.PathValue("address"))
	if _, err := solana.PublicKeyFromBase58(raw); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", raw))
		return "", false
	}
	return raw, true
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := s.allowAllOrigins
			if !allowed {
				_, allowed = s.allowedOriginSet[origin]
			}

			if allowed {
				if s.allowAllOrigins {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "300")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
