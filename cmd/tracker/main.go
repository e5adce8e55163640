package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "tracker",
		Short:        "DeFi yield pools, aggregator quotes and wallet swaps",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List the highest-yield pools with risk scores",
		RunE:  runPools,
	}

	poolsCmd.Flags().String("yield-api", "https://yields.llama.fi", "yield API base URL")
	poolsCmd.Flags().Int("limit", 10, "number of pools to show")
	poolsCmd.Flags().Bool("stable", false, "stablecoin pools only")
	poolsCmd.Flags().StringSlice("chain", nil, "chains to include (comma-separated)")
	poolsCmd.Flags().StringSlice("project", nil, "projects to include (comma-separated)")
	poolsCmd.Flags().Float64("min-apy", 0, "minimum APY in percent")
	poolsCmd.Flags().Float64("max-apy", 0, "maximum APY in percent, 0 means no limit")
	poolsCmd.Flags().Float64("min-tvl", 0, "minimum TVL in USD")
	poolsCmd.Flags().Bool("no-il-risk", false, "exclude pools with impermanent loss risk")
	poolsCmd.Flags().Float64("tvl-floor", 100000, "TVL below which pools are never ranked")
	poolsCmd.Flags().Float64("apy-ceiling", 1000, "APY above which pools are never ranked")
	poolsCmd.Flags().Bool("by-chain", false, "group the output by chain")
	poolsCmd.Flags().Float64("rate", 2, "yield API requests per second")
	poolsCmd.Flags().Duration("timeout", 30*time.Second, "HTTP timeout")
	poolsCmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	poolsCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	poolsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(poolsCmd)

	protocolsCmd := &cobra.Command{
		Use:   "protocols",
		Short: "List DeFi protocols by TVL or show one protocol's TVL by chain",
		RunE:  runProtocols,
	}

	protocolsCmd.Flags().String("protocols-api", "https://api.llama.fi", "protocol TVL API base URL")
	protocolsCmd.Flags().Int("limit", 20, "number of protocols to show")
	protocolsCmd.Flags().String("chain", "", "only protocols deployed on this chain")
	protocolsCmd.Flags().String("name", "", "show TVL by chain for this protocol (name or slug)")
	protocolsCmd.Flags().Float64("rate", 2, "API requests per second")
	protocolsCmd.Flags().Duration("timeout", 30*time.Second, "HTTP timeout")
	protocolsCmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	protocolsCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	protocolsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(protocolsCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Get an aggregator quote",
		RunE:  runQuote,
	}

	addAggregatorFlags(quoteCmd)
	addTradeFlags(quoteCmd)
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote and execute a swap through the connected wallet",
		RunE:  runSwap,
	}

	addAggregatorFlags(swapCmd)
	addTradeFlags(swapCmd)
	addWalletFlags(swapCmd)
	swapCmd.Flags().Float64("slippage", 1, "slippage tolerance in percent")
	swapCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	swapCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(swapCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Resume polling journaled transactions that are still pending",
		RunE:  runWatch,
	}

	addWalletFlags(watchCmd)
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transactions",
		RunE:  runHistory,
	}

	historyCmd.Flags().String("journal", "./data/swaps.jsonl", "transaction journal path (.jsonl or .db)")
	historyCmd.Flags().Int("limit", 20, "number of entries to show")
	historyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(historyCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local aggregator proxy",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":3000", "listen address")
	serveCmd.Flags().String("aggregator-url", "https://api.1inch.io/v5.0", "upstream aggregator API")
	serveCmd.Flags().Duration("token-ttl", 10*time.Minute, "token list cache TTL")
	serveCmd.Flags().Float64("rate", 5, "upstream requests per second")
	serveCmd.Flags().Int("burst", 1, "upstream request burst")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "upstream HTTP timeout")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addAggregatorFlags(cmd *cobra.Command) {
	cmd.Flags().String("proxy-url", "http://localhost:3000", "aggregator proxy base URL")
	cmd.Flags().Uint64("chain-id", 1, "chain id")
	cmd.Flags().Duration("timeout", 30*time.Second, "HTTP timeout")
}

func addTradeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "token to sell (address or symbol)")
	cmd.Flags().String("to", "", "token to buy (address or symbol)")
	cmd.Flags().String("amount", "", "amount to sell in display units")
}

func addWalletFlags(cmd *cobra.Command) {
	cmd.Flags().String("wallet-rpc", "", "wallet provider JSON-RPC endpoint")
	cmd.Flags().String("wallet-kind", "metamask", "required wallet kind")
	cmd.Flags().String("node-rpc", "", "node RPC for receipts (defaults to the wallet)")
	cmd.Flags().String("network-rpc", "", "RPC URLs offered when adding chains (comma-separated chainId=url)")
	cmd.Flags().Duration("poll-interval", 2*time.Second, "receipt poll interval")
	cmd.Flags().Int("max-polls", 0, "receipt polls before giving up, 0 means until interrupted")
	cmd.Flags().String("journal", "./data/swaps.jsonl", "transaction journal path (.jsonl or .db)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
