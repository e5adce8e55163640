package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultUpstreamURL = "https://api.1inch.io/v5.0"
	userAgent          = "DeFi-Yield-Tracker/1.0"
	maxBodyBytes       = 16 << 20
)

var ErrUpstream = errors.New("upstream request failed")

// upstream forwards GET requests to the aggregator API under a shared rate
// limit.
type upstream struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newUpstream(baseURL string, httpClient *http.Client, ratePerSec float64, burst int) *upstream {
	if baseURL == "" {
		baseURL = DefaultUpstreamURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &upstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// get returns the raw body of {base}/{chainID}/{method}?query.
func (u *upstream) get(ctx context.Context, chainID, method string, query url.Values) ([]byte, error) {
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", u.baseURL, url.PathEscape(chainID), method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUpstream, method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrUpstream, method, resp.StatusCode, text)
	}
	return body, nil
}
