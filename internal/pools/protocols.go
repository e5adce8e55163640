package pools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
	"github.com/msbkrkyn/defi-yield-tracker/internal/retry"
)

var ErrProtocolNotFound = errors.New("protocol not found")

type wireProtocol struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Slug      string             `json:"slug"`
	Symbol    string             `json:"symbol"`
	Category  string             `json:"category"`
	Chains    []string           `json:"chains"`
	TVL       *float64           `json:"tvl"`
	ChainTVLs map[string]float64 `json:"chainTvls"`
	Change1d  *float64           `json:"change_1d"`
	Change7d  *float64           `json:"change_7d"`
	URL       string             `json:"url"`
}

func (w wireProtocol) toModel() model.Protocol {
	return model.Protocol{
		ID:        w.ID,
		Name:      w.Name,
		Slug:      w.Slug,
		Symbol:    w.Symbol,
		Category:  w.Category,
		Chains:    w.Chains,
		TVLUSD:    nonNegative(w.TVL),
		ChainTVLs: w.ChainTVLs,
		Change1d:  w.Change1d,
		Change7d:  w.Change7d,
		URL:       w.URL,
	}
}

type wireProtocolTVL struct {
	Name             string             `json:"name"`
	CurrentChainTVLs map[string]float64 `json:"currentChainTvls"`
	TVL              []struct {
		Date              int64   `json:"date"`
		TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
	} `json:"tvl"`
}

// FetchProtocols downloads the protocol list.
func (c *Client) FetchProtocols(ctx context.Context) ([]model.Protocol, error) {
	body, err := c.fetch(ctx, c.protocolsURL+"/protocols")
	if err != nil {
		return nil, err
	}

	var wire []wireProtocol
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode protocols: %v", ErrParse, err)
	}
	out := make([]model.Protocol, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	c.logger.Debug("protocols fetched", zap.Int("count", len(out)))
	return out, nil
}

// TopProtocols returns up to n protocols with positive TVL, largest first.
// A fetch failure is logged and yields an empty list.
func (c *Client) TopProtocols(ctx context.Context, n int) []model.Protocol {
	all, err := c.FetchProtocols(ctx)
	if err != nil {
		c.logger.Warn("fetch protocols failed", zap.Error(err))
		return []model.Protocol{}
	}
	return TopByTVL(all, n)
}

// Protocol finds a protocol by name or slug, ignoring case.
func (c *Client) Protocol(ctx context.Context, name string) (model.Protocol, error) {
	all, err := c.FetchProtocols(ctx)
	if err != nil {
		return model.Protocol{}, err
	}
	name = strings.TrimSpace(name)
	for _, p := range all {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.Slug, name) {
			return p, nil
		}
	}
	return model.Protocol{}, fmt.Errorf("%w: %q", ErrProtocolNotFound, name)
}

// ProtocolsByChain returns protocols deployed on chain, largest TVL first.
func (c *Client) ProtocolsByChain(ctx context.Context, chain string, n int) ([]model.Protocol, error) {
	all, err := c.FetchProtocols(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Protocol, 0)
	for _, p := range all {
		if containsFold(p.Chains, chain) {
			out = append(out, p)
		}
	}
	return TopByTVL(out, n), nil
}

// ProtocolTVL loads the per-chain TVL and daily history of slug.
func (c *Client) ProtocolTVL(ctx context.Context, slug string) (model.ProtocolTVL, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return model.ProtocolTVL{}, fmt.Errorf("protocol slug is required")
	}
	body, err := c.fetch(ctx, c.protocolsURL+"/protocol/"+url.PathEscape(slug))
	if err != nil {
		return model.ProtocolTVL{}, err
	}

	var wire wireProtocolTVL
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.ProtocolTVL{}, fmt.Errorf("%w: decode protocol %s: %v", ErrParse, slug, err)
	}
	out := model.ProtocolTVL{
		Name:    wire.Name,
		Slug:    slug,
		Current: wire.CurrentChainTVLs,
		History: make([]model.TVLPoint, 0, len(wire.TVL)),
	}
	for _, p := range wire.TVL {
		out.History = append(out.History, model.TVLPoint{Date: time.Unix(p.Date, 0).UTC(), TVLUSD: p.TotalLiquidityUSD})
	}
	sort.SliceStable(out.History, func(i, j int) bool { return out.History[i].Date.Before(out.History[j].Date) })
	return out, nil
}

// TopByTVL drops protocols without TVL and returns at most n, largest first.
// n <= 0 returns every match. The input slice is not modified.
func TopByTVL(protocols []model.Protocol, n int) []model.Protocol {
	out := make([]model.Protocol, 0, len(protocols))
	for _, p := range protocols {
		if p.TVLUSD > 0 {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TVLUSD != out[j].TVLUSD {
			return out[i].TVLUSD > out[j].TVLUSD
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var err error
		body, err = c.get(ctx, target)
		return err
	})
	return body, err
}
