// Package proxy serves the /api endpoints the aggregator client consumes and
// forwards them to the public aggregator API.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

const (
	defaultChainID  = "1"
	defaultSlippage = "1"
	DefaultTokenTTL = 10 * time.Minute
)

type Options struct {
	Addr        string
	UpstreamURL string
	HTTPClient  *http.Client
	// RatePerSec and Burst bound upstream calls across all handlers.
	RatePerSec float64
	Burst      int
	TokenTTL   time.Duration
	Logger     *zap.Logger
}

// Server is the local aggregator proxy. Token lists are cached per chain;
// quotes and swaps always go upstream.
type Server struct {
	addr     string
	upstream *upstream
	tokens   *ristretto.Cache
	tokenTTL time.Duration
	logger   *zap.Logger
}

func NewServer(opts Options) (*Server, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     opts.Addr,
		upstream: newUpstream(opts.UpstreamURL, opts.HTTPClient, opts.RatePerSec, opts.Burst),
		tokens:   cache,
		tokenTTL: ttl,
		logger:   logger,
	}, nil
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tokens", s.handleTokens)
	mux.HandleFunc("/api/quote", s.handleQuote)
	mux.HandleFunc("/api/swap", s.handleSwap)
	mux.HandleFunc("/api/approve/spender", s.handleSpender)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("proxy listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the token cache.
func (s *Server) Close() {
	s.tokens.Close()
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	chainID, ok := chainParam(w, r)
	if !ok {
		return
	}

	if cached, found := s.tokens.Get(chainID); found {
		if body, ok := cached.([]byte); ok {
			s.logger.Debug("token list cache hit", zap.String("chain_id", chainID))
			writeRaw(w, body)
			return
		}
	}

	body, err := s.upstream.get(r.Context(), chainID, "tokens", nil)
	if err != nil {
		s.fail(w, "Failed to fetch tokens", "tokens", chainID, err)
		return
	}
	var probe struct {
		Tokens map[string]json.RawMessage `json:"tokens"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Tokens == nil {
		s.fail(w, "Failed to fetch tokens", "tokens", chainID, fmt.Errorf("unexpected token list payload"))
		return
	}

	s.tokens.SetWithTTL(chainID, body, int64(len(body)), s.tokenTTL)
	s.tokens.Wait()
	s.logger.Info("token list fetched", zap.String("chain_id", chainID), zap.Int("tokens", len(probe.Tokens)))
	writeRaw(w, body)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	chainID, ok := chainParam(w, r)
	if !ok {
		return
	}
	query, ok := required(w, r, "fromTokenAddress", "toTokenAddress", "amount")
	if !ok {
		return
	}

	body, err := s.upstream.get(r.Context(), chainID, "quote", query)
	if err != nil {
		s.fail(w, "Failed to get quote", "quote", chainID, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	chainID, ok := chainParam(w, r)
	if !ok {
		return
	}
	query, ok := required(w, r, "fromTokenAddress", "toTokenAddress", "amount", "fromAddress")
	if !ok {
		return
	}
	slippage := r.URL.Query().Get("slippage")
	if slippage == "" {
		slippage = defaultSlippage
	}
	if v, err := strconv.ParseFloat(slippage, 64); err != nil || v < 0 || v > 50 {
		writeError(w, http.StatusBadRequest, "Invalid slippage")
		return
	}
	query.Set("slippage", slippage)
	query.Set("disableEstimate", "false")

	body, err := s.upstream.get(r.Context(), chainID, "swap", query)
	if err != nil {
		s.fail(w, "Failed to get swap data", "swap", chainID, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) handleSpender(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	chainID, ok := chainParam(w, r)
	if !ok {
		return
	}

	body, err := s.upstream.get(r.Context(), chainID, "approve/spender", nil)
	if err != nil {
		s.fail(w, "Failed to get spender", "approve/spender", chainID, err)
		return
	}
	writeRaw(w, body)
}

func (s *Server) fail(w http.ResponseWriter, message, method, chainID string, err error) {
	s.logger.Warn("proxy request failed", zap.String("method", method), zap.String("chain_id", chainID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, message)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

func chainParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	chainID := r.URL.Query().Get("chainId")
	if chainID == "" {
		return defaultChainID, true
	}
	if v, err := strconv.ParseUint(chainID, 10, 64); err != nil || v == 0 {
		writeError(w, http.StatusBadRequest, "Invalid chainId")
		return "", false
	}
	return chainID, true
}

// required copies the named parameters into a new query, answering 400 when
// any is missing.
func required(w http.ResponseWriter, r *http.Request, names ...string) (url.Values, bool) {
	in := r.URL.Query()
	out := url.Values{}
	for _, name := range names {
		v := in.Get(name)
		if v == "" {
			writeError(w, http.StatusBadRequest, "Missing required parameters")
			return nil, false
		}
		out.Set(name, v)
	}
	return out, true
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
