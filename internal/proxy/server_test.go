package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msbkrkyn/defi-yield-tracker/internal/aggregator"
)

type recordedRequest struct {
	Path      string
	Query     map[string]string
	UserAgent string
}

type fakeUpstream struct {
	mu       sync.Mutex
	requests []recordedRequest
	hits     atomic.Int32
	status   atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Query: query, UserAgent: r.Header.Get("User-Agent")})
	f.mu.Unlock()

	if code := f.status.Load(); code != 0 {
		w.WriteHeader(int(code))
		_, _ = w.Write([]byte(`{"statusCode":500,"description":"internal"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/1/tokens", "/137/tokens":
		_, _ = w.Write([]byte(`{"tokens":{"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48":{"address":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","symbol":"USDC","name":"USD Coin","decimals":6,"logoURI":""}}}`))
	case "/1/quote":
		_, _ = w.Write([]byte(`{"fromToken":{"symbol":"ETH","decimals":18},"toToken":{"symbol":"USDC","decimals":6},"fromTokenAmount":"1000000000000000000","toTokenAmount":"2500000000","protocols":[],"estimatedGas":150000}`))
	case "/1/swap":
		_, _ = w.Write([]byte(`{"fromTokenAmount":"1000000000000000000","toTokenAmount":"2500000000","tx":{"from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","data":"0x12","value":"1000000000000000000","gas":210000,"gasPrice":"1000"}}`))
	case "/1/approve/spender":
		_, _ = w.Write([]byte(`{"address":"0x1111111254fb6c44bac0bed2854e76f90643097d"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeUpstream) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestProxy(t *testing.T, up *fakeUpstream) *httptest.Server {
	t.Helper()
	upstreamSrv := httptest.NewServer(up)
	t.Cleanup(upstreamSrv.Close)

	srv, err := NewServer(Options{UpstreamURL: upstreamSrv.URL, RatePerSec: 1000, Burst: 100})
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	proxySrv := httptest.NewServer(srv.Handler())
	t.Cleanup(proxySrv.Close)
	return proxySrv
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestTokensAreCachedPerChain(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestProxy(t, up)

	status, body := getJSON(t, srv.URL+"/api/tokens?chainId=1")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "tokens")

	status, _ = getJSON(t, srv.URL+"/api/tokens?chainId=1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int32(1), up.hits.Load())

	status, _ = getJSON(t, srv.URL+"/api/tokens?chainId=137")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestChainDefaultsToMainnet(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestProxy(t, up)

	status, _ := getJSON(t, srv.URL+"/api/quote?fromTokenAddress=0xeeee&toTokenAddress=0xa0b8&amount=1000")
	require.Equal(t, http.StatusOK, status)

	req := up.last()
	assert.Equal(t, "/1/quote", req.Path)
	assert.Equal(t, "1000", req.Query["amount"])
	assert.Equal(t, userAgent, req.UserAgent)
}

func TestSwapForwardsSlippage(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestProxy(t, up)

	base := srv.URL + "/api/swap?chainId=1&fromTokenAddress=0xeeee&toTokenAddress=0xa0b8&amount=1000&fromAddress=0x1111"
	status, _ := getJSON(t, base)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", up.last().Query["slippage"])
	assert.Equal(t, "false", up.last().Query["disableEstimate"])

	status, _ = getJSON(t, base+"&slippage=0.5")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0.5", up.last().Query["slippage"])

	status, body := getJSON(t, base+"&slippage=abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid slippage", body["error"])
}

func TestMissingParameters(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestProxy(t, up)

	for _, path := range []string{
		"/api/quote?chainId=1&fromTokenAddress=0xeeee&amount=1",
		"/api/quote?toTokenAddress=0xeeee&fromTokenAddress=0xa0b8",
		"/api/swap?fromTokenAddress=0xeeee&toTokenAddress=0xa0b8&amount=1",
	} {
		status, body := getJSON(t, srv.URL+path)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Equal(t, "Missing required parameters", body["error"], path)
	}
	assert.Equal(t, int32(0), up.hits.Load())

	status, body := getJSON(t, srv.URL+"/api/tokens?chainId=abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid chainId", body["error"])
}

func TestUpstreamFailureIs500(t *testing.T) {
	up := &fakeUpstream{}
	up.status.Store(http.StatusBadGateway)
	srv := newTestProxy(t, up)

	status, body := getJSON(t, srv.URL+"/api/tokens")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to fetch tokens", body["error"])

	status, body = getJSON(t, srv.URL+"/api/quote?fromTokenAddress=a&toTokenAddress=b&amount=1")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to get quote", body["error"])

	// failures are not cached
	up.status.Store(0)
	status, _ = getJSON(t, srv.URL+"/api/tokens")
	assert.Equal(t, http.StatusOK, status)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestProxy(t, &fakeUpstream{})

	resp, err := http.Post(srv.URL+"/api/tokens", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAggregatorClientAgainstProxy(t *testing.T) {
	srv := newTestProxy(t, &fakeUpstream{})
	client := aggregator.NewClient(srv.URL, nil, nil)
	ctx := context.Background()

	tokens, err := client.Tokens(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "USDC", tokens["0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"].Symbol)

	q, err := client.Quote(ctx, aggregator.QuoteParams{ChainID: 1, FromToken: "0xeeee", ToToken: "0xa0b8", Amount: "1000000000000000000"})
	require.NoError(t, err)
	assert.Equal(t, "2500000000", q.ToTokenAmount)
	assert.Equal(t, aggregator.Uint(150000), q.EstimatedGas)

	sw, err := client.Swap(ctx, aggregator.SwapParams{
		QuoteParams: aggregator.QuoteParams{ChainID: 1, FromToken: "0xeeee", ToToken: "0xa0b8", Amount: "1000000000000000000"},
		FromAddress: "0x1111111111111111111111111111111111111111",
		Slippage:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(210000), sw.Tx.Request().Gas)

	spender, err := client.Spender(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "0x1111111254fb6c44bac0bed2854e76f90643097d", spender)

	_, err = client.Quote(ctx, aggregator.QuoteParams{ChainID: 1, FromToken: "0xeeee"})
	var upstreamErr *aggregator.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusBadRequest, upstreamErr.Status)
	assert.Equal(t, "Missing required parameters", upstreamErr.Message)
}
