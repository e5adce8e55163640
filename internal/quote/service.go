// Package quote validates swap inputs and fetches aggregator quotes.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/aggregator"
	"github.com/msbkrkyn/defi-yield-tracker/internal/amount"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

var ErrInvalidInput = errors.New("invalid quote input")

// Aggregator is the subset of the aggregator client the service uses.
type Aggregator interface {
	Tokens(ctx context.Context, chainID uint64) (map[string]model.Token, error)
	Quote(ctx context.Context, p aggregator.QuoteParams) (*aggregator.QuoteResponse, error)
}

// Service produces quotes. Token lists are cached per chain; quotes never are.
type Service struct {
	agg    Aggregator
	logger *zap.Logger

	mu     sync.RWMutex
	tokens map[uint64]map[string]model.Token
}

func NewService(agg Aggregator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		agg:    agg,
		logger: logger,
		tokens: make(map[uint64]map[string]model.Token),
	}
}

// Tokens returns the chain's token set keyed by lower-case address.
func (s *Service) Tokens(ctx context.Context, chainID uint64) (map[string]model.Token, error) {
	s.mu.RLock()
	cached, ok := s.tokens[chainID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	tokens, err := s.agg.Tokens(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("load tokens for chain %d: %w", chainID, err)
	}
	s.mu.Lock()
	s.tokens[chainID] = tokens
	s.mu.Unlock()
	s.logger.Debug("token list loaded", zap.Uint64("chain_id", chainID), zap.Int("count", len(tokens)))
	return tokens, nil
}

// ResetTokens drops the cached token list for chainID, or every list when
// chainID is zero.
func (s *Service) ResetTokens(chainID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chainID == 0 {
		s.tokens = make(map[uint64]map[string]model.Token)
		return
	}
	delete(s.tokens, chainID)
}

// Token looks up a token by address, or by symbol when the symbol is unique.
func (s *Service) Token(ctx context.Context, chainID uint64, ref string) (model.Token, error) {
	tokens, err := s.Tokens(ctx, chainID)
	if err != nil {
		return model.Token{}, err
	}
	return lookup(tokens, ref)
}

// GetQuote validates the input triple and asks the aggregator for a quote.
// amount is a human decimal string in from-token units.
func (s *Service) GetQuote(ctx context.Context, chainID uint64, fromToken, toToken, value string) (model.Quote, error) {
	if !amount.IsPositive(value) {
		return model.Quote{}, fmt.Errorf("%w: amount must be a positive number, got %q", ErrInvalidInput, value)
	}
	if strings.EqualFold(strings.TrimSpace(fromToken), strings.TrimSpace(toToken)) {
		return model.Quote{}, fmt.Errorf("%w: from and to token are the same", ErrInvalidInput)
	}

	tokens, err := s.Tokens(ctx, chainID)
	if err != nil {
		return model.Quote{}, err
	}
	from, err := lookup(tokens, fromToken)
	if err != nil {
		return model.Quote{}, err
	}
	to, err := lookup(tokens, toToken)
	if err != nil {
		return model.Quote{}, err
	}
	if strings.EqualFold(from.Address, to.Address) {
		return model.Quote{}, fmt.Errorf("%w: from and to token are the same", ErrInvalidInput)
	}

	baseUnits, err := amount.FormatAmount(value, from.Decimals)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if baseUnits == "0" {
		return model.Quote{}, fmt.Errorf("%w: amount %s is below the smallest unit of %s", ErrInvalidInput, value, from.Symbol)
	}
	fromDisplay, _ := amount.ParseAmount(baseUnits, from.Decimals)

	resp, err := s.agg.Quote(ctx, aggregator.QuoteParams{
		ChainID:   chainID,
		FromToken: from.Address,
		ToToken:   to.Address,
		Amount:    baseUnits,
	})
	if err != nil {
		return model.Quote{}, fmt.Errorf("get quote: %w", err)
	}
	toDisplay, err := amount.ParseAmount(resp.ToTokenAmount, to.Decimals)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: to amount: %v", aggregator.ErrDecode, err)
	}

	return model.Quote{
		ChainID:           chainID,
		FromToken:         from,
		ToToken:           to,
		FromAmount:        baseUnits,
		FromAmountDisplay: fromDisplay,
		ToAmountEstimate:  resp.ToTokenAmount,
		ToAmountDisplay:   toDisplay,
		Protocols:         aggregator.ProtocolNames(resp.Protocols),
		EstimatedGas:      uint64(resp.EstimatedGas),
	}, nil
}

func lookup(tokens map[string]model.Token, ref string) (model.Token, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Token{}, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if token, ok := tokens[strings.ToLower(ref)]; ok {
		return token, nil
	}
	if strings.HasPrefix(ref, "0x") {
		return model.Token{}, fmt.Errorf("%w: token %s is not supported on this chain", ErrInvalidInput, ref)
	}

	var match *model.Token
	for _, token := range tokens {
		if !strings.EqualFold(token.Symbol, ref) {
			continue
		}
		if match != nil {
			return model.Token{}, fmt.Errorf("%w: symbol %s is ambiguous, use an address", ErrInvalidInput, ref)
		}
		t := token
		match = &t
	}
	if match == nil {
		return model.Token{}, fmt.Errorf("%w: token %s is not supported on this chain", ErrInvalidInput, ref)
	}
	return *match, nil
}
