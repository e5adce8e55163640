package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/config"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
	"github.com/msbkrkyn/defi-yield-tracker/internal/pools"
	"github.com/msbkrkyn/defi-yield-tracker/internal/retry"
	"github.com/msbkrkyn/defi-yield-tracker/internal/risk"
)

func runPools(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPools(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := pools.NewClient(pools.Options{
		BaseURL:    cfg.YieldAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		RatePerSec: cfg.RatePerSec,
		Retry: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBackoff,
		},
		Rules: pools.Rules{
			TVLFloor:   cfg.TVLFloor,
			APYCeiling: cfg.APYCeiling,
		},
		Logger: logger,
	})

	criteria := pools.Criteria{
		MinAPY:         cfg.MinAPY,
		MaxAPY:         cfg.MaxAPY,
		MinTVL:         cfg.MinTVL,
		Chains:         cfg.Chains,
		Projects:       cfg.Projects,
		StablecoinOnly: cfg.Stablecoin,
		NoILRisk:       cfg.NoILRisk,
	}

	var result []model.Pool
	switch {
	case advancedCriteria(criteria):
		result, err = client.Search(ctx, criteria, cfg.Limit)
		if err != nil {
			return fmt.Errorf("search pools: %w", err)
		}
	case cfg.Stablecoin:
		result = client.StablecoinPools(ctx, cfg.Limit)
	default:
		result = client.TopPools(ctx, cfg.Limit)
	}

	logger.Debug("pools ranked", zap.Int("count", len(result)), zap.Int("limit", cfg.Limit))

	out := cmd.OutOrStdout()
	if len(result) == 0 {
		fmt.Fprintln(out, "no pools available")
		return nil
	}
	if !cfg.GroupByChain {
		renderPools(out, result)
		return nil
	}

	groups := pools.GroupByChain(result)
	chains := make([]string, 0, len(groups))
	for chain := range groups {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	for _, chain := range chains {
		fmt.Fprintf(out, "\n%s\n", chain)
		renderPools(out, groups[chain])
	}
	return nil
}

func advancedCriteria(c pools.Criteria) bool {
	return c.MinAPY > 0 || c.MaxAPY > 0 || c.MinTVL > 0 || len(c.Chains) > 0 || len(c.Projects) > 0 || c.NoILRisk
}

func renderPools(out io.Writer, list []model.Pool) {
	table := tablewriter.NewWriter(out)
	table.Header("#", "Project", "Chain", "Symbol", "TVL", "APY", "Risk", "Link")
	for i, p := range list {
		score := risk.Score(p)
		table.Append(
			strconv.Itoa(i+1),
			p.Project,
			p.Chain,
			p.Symbol,
			formatUSD(p.TVLUSD),
			formatPercent(p.APY),
			fmt.Sprintf("%s (%d)", score.Level, score.Score),
			pools.ProtocolURL(p.Project),
		)
	}
	table.Render()
}

func formatUSD(value float64) string {
	d := decimal.NewFromFloat(value)
	switch {
	case value >= 1e9:
		return "$" + d.Shift(-9).StringFixed(2) + "B"
	case value >= 1e6:
		return "$" + d.Shift(-6).StringFixed(2) + "M"
	case value >= 1e3:
		return "$" + d.Shift(-3).StringFixed(2) + "K"
	default:
		return "$" + d.StringFixed(2)
	}
}

func formatPercent(value float64) string {
	return decimal.NewFromFloat(value).StringFixed(2) + "%"
}
