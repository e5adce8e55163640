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

	"github.com/msbkrkyn/defi-yield-tracker/internal/config"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
	"github.com/msbkrkyn/defi-yield-tracker/internal/pools"
	"github.com/msbkrkyn/defi-yield-tracker/internal/retry"
)

func runProtocols(cmd *cobra.Command, _ []string) error {
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
		ProtocolsURL: cfg.ProtocolsAPI,
		HTTPClient:   &http.Client{Timeout: cfg.Timeout},
		RatePerSec:   cfg.RatePerSec,
		Retry: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBackoff,
		},
		Logger: logger,
	})

	out := cmd.OutOrStdout()
	if cfg.Protocol != "" {
		p, err := client.Protocol(ctx, cfg.Protocol)
		if err != nil {
			return fmt.Errorf("find protocol: %w", err)
		}
		tvl, err := client.ProtocolTVL(ctx, p.Slug)
		if err != nil {
			return fmt.Errorf("protocol tvl: %w", err)
		}
		renderProtocolTVL(out, p, tvl)
		return nil
	}

	var list []model.Protocol
	if len(cfg.Chains) > 0 {
		list, err = client.ProtocolsByChain(ctx, cfg.Chains[0], cfg.Limit)
		if err != nil {
			return fmt.Errorf("protocols on %s: %w", cfg.Chains[0], err)
		}
	} else {
		list = client.TopProtocols(ctx, cfg.Limit)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "no protocols available")
		return nil
	}
	renderProtocols(out, list)
	return nil
}

func renderProtocols(out io.Writer, list []model.Protocol) {
	table := tablewriter.NewWriter(out)
	table.Header("#", "Protocol", "Category", "Chains", "TVL", "1d", "7d")
	for i, p := range list {
		table.Append(
			strconv.Itoa(i+1),
			p.Name,
			p.Category,
			strconv.Itoa(len(p.Chains)),
			formatUSD(p.TVLUSD),
			formatChange(p.Change1d),
			formatChange(p.Change7d),
		)
	}
	table.Render()
}

// renderProtocolTVL prints the protocol's current TVL per chain, largest
// first, followed by the latest daily total.
func renderProtocolTVL(out io.Writer, p model.Protocol, tvl model.ProtocolTVL) {
	chains := make([]string, 0, len(tvl.Current))
	for chain := range tvl.Current {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		a, b := tvl.Current[chains[i]], tvl.Current[chains[j]]
		if a != b {
			return a > b
		}
		return chains[i] < chains[j]
	})

	fmt.Fprintf(out, "%s (%s) %s\n", p.Name, p.Category, pools.ProtocolURL(p.Slug))
	table := tablewriter.NewWriter(out)
	table.Header("Chain", "TVL")
	for _, chain := range chains {
		table.Append(chain, formatUSD(tvl.Current[chain]))
	}
	table.Render()
	if latest, ok := tvl.Latest(); ok {
		fmt.Fprintf(out, "total %s on %s\n", formatUSD(latest.TVLUSD), latest.Date.Format("2006-01-02"))
	}
}

func formatChange(v *float64) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromFloat(*v).StringFixed(2) + "%"
}
