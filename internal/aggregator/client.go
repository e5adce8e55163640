// Package aggregator talks to the local DEX aggregator proxy.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const defaultTimeout = 30 * time.Second

var (
	ErrNetwork = errors.New("aggregator network error")
	ErrDecode  = errors.New("aggregator response decode error")
)

// UpstreamError is a non-2xx answer from the proxy.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("aggregator upstream error %d: %s", e.Status, e.Message)
}

// Client calls the proxy's /api endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Tokens returns the chain's token list keyed by lower-case address.
func (c *Client) Tokens(ctx context.Context, chainID uint64) (map[string]model.Token, error) {
	var resp tokensResponse
	if err := c.get(ctx, "/api/tokens", url.Values{"chainId": {chainIDParam(chainID)}}, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]model.Token, len(resp.Tokens))
	for addr, token := range resp.Tokens {
		if token.Address == "" {
			token.Address = addr
		}
		out[strings.ToLower(addr)] = token
	}
	return out, nil
}

// Quote asks for a price estimate.
func (c *Client) Quote(ctx context.Context, p QuoteParams) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := c.get(ctx, "/api/quote", p.values(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Swap asks for executable swap call data.
func (c *Client) Swap(ctx context.Context, p SwapParams) (*SwapResponse, error) {
	values := p.QuoteParams.values()
	values.Set("fromAddress", p.FromAddress)
	values.Set("slippage", strconv.FormatFloat(p.Slippage, 'f', -1, 64))

	var resp SwapResponse
	if err := c.get(ctx, "/api/swap", values, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Spender returns the router address approvals must be granted to.
func (c *Client) Spender(ctx context.Context, chainID uint64) (string, error) {
	var resp spenderResponse
	if err := c.get(ctx, "/api/approve/spender", url.Values{"chainId": {chainIDParam(chainID)}}, &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("%w: empty spender address", ErrDecode)
	}
	return resp.Address, nil
}

func (p QuoteParams) values() url.Values {
	return url.Values{
		"chainId":          {chainIDParam(p.ChainID)},
		"fromTokenAddress": {p.FromToken},
		"toTokenAddress":   {p.ToToken},
		"amount":           {p.Amount},
	}
}

func chainIDParam(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrNetwork, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream := &UpstreamError{Status: resp.StatusCode, Message: errorMessage(body)}
		c.logger.Debug("aggregator request failed", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("message", upstream.Message))
		return upstream
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Description != "" {
			return payload.Description
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
