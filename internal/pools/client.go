// Package pools fetches, filters and ranks yield pools from a DefiLlama-style
// yields API.
package pools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
	"github.com/msbkrkyn/defi-yield-tracker/internal/retry"
)

const (
	DefaultBaseURL      = "https://yields.llama.fi"
	DefaultProtocolsURL = "https://api.llama.fi"

	defaultTimeout = 30 * time.Second
	defaultRate    = 2
	defaultBurst   = 2
)

var (
	ErrNetwork  = errors.New("yield api network error")
	ErrUpstream = errors.New("yield api upstream error")
	ErrParse    = errors.New("yield api parse error")
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL string
	// ProtocolsURL is the base of the protocol TVL API.
	ProtocolsURL string
	HTTPClient   *http.Client
	RatePerSec   float64
	Burst        int
	Retry        retry.Policy
	Rules        Rules
	Logger       *zap.Logger
}

// Client is the pool data client.
type Client struct {
	baseURL      string
	protocolsURL string
	http         *http.Client
	limiter      *rate.Limiter
	retry        retry.Policy
	rules        Rules
	logger       *zap.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	protocolsURL := strings.TrimRight(opts.ProtocolsURL, "/")
	if protocolsURL == "" {
		protocolsURL = DefaultProtocolsURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	ratePerSec := opts.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = defaultRate
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.Retry
	if policy.Retryable == nil {
		policy.Retryable = isTransient
	}

	return &Client{
		baseURL:      baseURL,
		protocolsURL: protocolsURL,
		http:         httpClient,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), burst),
		retry:        policy,
		rules:        opts.Rules.withDefaults(),
		logger:       logger,
	}
}

type poolsResponse struct {
	Status string     `json:"status"`
	Data   []wirePool `json:"data"`
}

type wirePool struct {
	Pool       string   `json:"pool"`
	Chain      string   `json:"chain"`
	Project    string   `json:"project"`
	Symbol     string   `json:"symbol"`
	TVLUSD     *float64 `json:"tvlUsd"`
	APY        *float64 `json:"apy"`
	APYBase    *float64 `json:"apyBase"`
	APYReward  *float64 `json:"apyReward"`
	APYMean30d *float64 `json:"apyMean30d"`
	Stablecoin bool     `json:"stablecoin"`
	ILRisk     flexBool `json:"ilRisk"`
	IL7d       *float64 `json:"il7d"`
	Exposure   string   `json:"exposure"`
	Outlier    bool     `json:"outlier"`
}

func (w wirePool) toModel() model.Pool {
	return model.Pool{
		PoolID:     w.Pool,
		Chain:      w.Chain,
		Project:    w.Project,
		Symbol:     w.Symbol,
		TVLUSD:     nonNegative(w.TVLUSD),
		APY:        nonNegative(w.APY),
		APYBase:    w.APYBase,
		APYReward:  w.APYReward,
		APYMean30d: w.APYMean30d,
		Stablecoin: w.Stablecoin,
		ILRisk:     w.ILRisk.ptr(),
		IL7d:       w.IL7d,
		Exposure:   w.Exposure,
		Outlier:    w.Outlier,
	}
}

// flexBool accepts true/false as well as the "yes"/"no" strings the API emits.
// Any other value decodes as unset.
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch strings.ToLower(strings.Trim(raw, `"`)) {
	case "null", "":
		*b = flexBool{}
	case "true", "yes":
		*b = flexBool{set: true, value: true}
	case "false", "no":
		*b = flexBool{set: true, value: false}
	default:
		*b = flexBool{}
	}
	return nil
}

func (b flexBool) ptr() *bool {
	if !b.set {
		return nil
	}
	v := b.value
	return &v
}

func nonNegative(v *float64) float64 {
	if v == nil || *v < 0 {
		return 0
	}
	return *v
}

// FetchPools downloads the full pool list.
func (c *Client) FetchPools(ctx context.Context) ([]model.Pool, error) {
	body, err := c.fetch(ctx, c.baseURL+"/pools")
	if err != nil {
		return nil, err
	}

	var resp poolsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode pools: %v", ErrParse, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrUpstream, resp.Status)
	}

	out := make([]model.Pool, 0, len(resp.Data))
	for _, w := range resp.Data {
		out = append(out, w.toModel())
	}
	c.logger.Debug("pools fetched", zap.Int("count", len(out)))
	return out, nil
}

// TopPools returns up to n admissible pools ranked by APY. A fetch failure
// is logged and yields an empty list.
func (c *Client) TopPools(ctx context.Context, n int) []model.Pool {
	all, err := c.FetchPools(ctx)
	if err != nil {
		c.logger.Warn("fetch pools failed", zap.Error(err))
		return []model.Pool{}
	}
	return Top(all, c.rules, n, nil)
}

// StablecoinPools is TopPools restricted to stablecoin pools.
func (c *Client) StablecoinPools(ctx context.Context, n int) []model.Pool {
	all, err := c.FetchPools(ctx)
	if err != nil {
		c.logger.Warn("fetch pools failed", zap.Error(err))
		return []model.Pool{}
	}
	return Top(all, c.rules, n, func(p model.Pool) bool { return p.Stablecoin })
}

// Search fetches pools and applies criteria on top of the admissibility rule.
func (c *Client) Search(ctx context.Context, criteria Criteria, n int) ([]model.Pool, error) {
	all, err := c.FetchPools(ctx)
	if err != nil {
		return nil, err
	}
	return Top(Filter(all, criteria), c.rules, n, nil), nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := &statusError{code: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	return body, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("%s: http status %d", ErrNetwork, e.code) }
func (e *statusError) Unwrap() error { return ErrNetwork }

func isTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}
