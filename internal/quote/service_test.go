package quote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msbkrkyn/defi-yield-tracker/internal/aggregator"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const (
	usdc = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	weth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

type fakeAggregator struct {
	mu         sync.Mutex
	tokenCalls int
	quoteCalls int
	lastParams aggregator.QuoteParams
	quoteErr   error
	toAmount   string
}

func newFakeAggregator() *fakeAggregator {
	return &fakeAggregator{toAmount: "499000000000000000"}
}

func (f *fakeAggregator) Tokens(context.Context, uint64) (map[string]model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	return map[string]model.Token{
		usdc: {Address: usdc, Symbol: "USDC", Decimals: 6},
		weth: {Address: weth, Symbol: "WETH", Decimals: 18},
	}, nil
}

func (f *fakeAggregator) Quote(_ context.Context, p aggregator.QuoteParams) (*aggregator.QuoteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.lastParams = p
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &aggregator.QuoteResponse{
		ToTokenAmount: f.toAmount,
		Protocols:     []byte(`[[[{"name":"UNISWAP_V3"}]]]`),
		EstimatedGas:  150000,
	}, nil
}

func TestGetQuote(t *testing.T) {
	agg := newFakeAggregator()
	svc := NewService(agg, nil)

	q, err := svc.GetQuote(context.Background(), 1, usdc, "weth", "1.5")
	require.NoError(t, err)

	assert.Equal(t, "1500000", agg.lastParams.Amount)
	assert.Equal(t, weth, agg.lastParams.ToToken)
	assert.Equal(t, "1500000", q.FromAmount)
	assert.Equal(t, "1.500000", q.FromAmountDisplay)
	assert.Equal(t, "0.499000", q.ToAmountDisplay)
	assert.Equal(t, []string{"UNISWAP_V3"}, q.Protocols)
	assert.Equal(t, uint64(150000), q.EstimatedGas)
}

func TestGetQuoteValidation(t *testing.T) {
	agg := newFakeAggregator()
	svc := NewService(agg, nil)
	ctx := context.Background()

	cases := []struct {
		name, from, to, amount string
	}{
		{"zero amount", usdc, weth, "0"},
		{"negative amount", usdc, weth, "-1"},
		{"garbage amount", usdc, weth, "abc"},
		{"same token", usdc, usdc, "1"},
		{"same token by symbol", usdc, "USDC", "1"},
		{"unknown token", usdc, "0x0000000000000000000000000000000000000001", "1"},
		{"dust", usdc, weth, "0.0000001"},
	}
	for _, tc := range cases {
		_, err := svc.GetQuote(ctx, 1, tc.from, tc.to, tc.amount)
		assert.ErrorIs(t, err, ErrInvalidInput, tc.name)
	}
	assert.Zero(t, agg.quoteCalls)
}

func TestGetQuoteIsNotCached(t *testing.T) {
	agg := newFakeAggregator()
	svc := NewService(agg, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.GetQuote(context.Background(), 1, usdc, weth, "2")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, agg.quoteCalls)
	assert.Equal(t, 1, agg.tokenCalls)

	svc.ResetTokens(1)
	_, err := svc.GetQuote(context.Background(), 1, usdc, weth, "2")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.tokenCalls)
}

func TestGetQuoteUpstreamError(t *testing.T) {
	agg := newFakeAggregator()
	agg.quoteErr = &aggregator.UpstreamError{Status: 500, Message: "boom"}
	svc := NewService(agg, nil)

	_, err := svc.GetQuote(context.Background(), 1, usdc, weth, "1")
	var upstream *aggregator.UpstreamError
	assert.True(t, errors.As(err, &upstream))
}
