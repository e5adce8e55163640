package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/aggregator"
	"github.com/msbkrkyn/defi-yield-tracker/internal/chain"
	"github.com/msbkrkyn/defi-yield-tracker/internal/config"
	"github.com/msbkrkyn/defi-yield-tracker/internal/desk"
	"github.com/msbkrkyn/defi-yield-tracker/internal/erc20"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
	"github.com/msbkrkyn/defi-yield-tracker/internal/quote"
	"github.com/msbkrkyn/defi-yield-tracker/internal/storage"
	"github.com/msbkrkyn/defi-yield-tracker/internal/swap"
	"github.com/msbkrkyn/defi-yield-tracker/internal/wallet"
	"github.com/msbkrkyn/defi-yield-tracker/internal/wallet/rpcprovider"
)

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	agg := aggregator.NewClient(cfg.ProxyURL, &http.Client{Timeout: cfg.Timeout}, logger)
	svc := quote.NewService(agg, logger)
	form := quote.NewForm(svc, cfg.ChainID)
	fillForm(form, cfg)

	q, err := form.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("get quote: %w", err)
	}
	renderQuote(cmd.OutOrStdout(), q)
	return nil
}

func runSwap(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	skipConfirm, _ := cmd.Flags().GetBool("yes")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WalletRPC == "" {
		return fmt.Errorf("wallet rpc url is required")
	}

	session, closeSession, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	state, err := session.Restore(ctx)
	if err != nil || !state.Connected() {
		state, err = session.Connect(ctx)
		if err != nil {
			return fmt.Errorf("connect wallet: %w", err)
		}
	}
	if state.ChainID != cfg.ChainID {
		logger.Info("switching network", zap.Uint64("from", state.ChainID), zap.Uint64("to", cfg.ChainID))
		if err := session.SwitchNetwork(ctx, cfg.ChainID); err != nil {
			return fmt.Errorf("switch network: %w", err)
		}
	}

	journal, err := storage.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	node, _, err := openNode(ctx, cfg)
	if err != nil {
		return err
	}
	var receipts swap.ReceiptSource
	if node != nil {
		defer node.Close()
		receipts = node
	}

	agg := aggregator.NewClient(cfg.ProxyURL, &http.Client{Timeout: cfg.Timeout}, logger)
	svc := quote.NewService(agg, logger)
	form := quote.NewForm(svc, cfg.ChainID)
	executor := swap.NewExecutor(session, agg, receipts, swap.Options{
		Slippage:     cfg.Slippage,
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
		Hooks:        desk.JournalHooks(journal, logger),
		Logger:       logger,
	})

	d := desk.New(desk.Config{
		Wallet:  session,
		Form:    form,
		Tokens:  svc,
		Swapper: executor,
		Journal: journal,
		Logger:  logger,
	})
	defer d.Close()

	fillForm(form, cfg)
	q, err := form.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("get quote: %w", err)
	}

	out := cmd.OutOrStdout()
	renderQuote(out, q)
	state = session.State()
	fmt.Fprintf(out, "wallet %s on %s, balance %s\n", state.Address, wallet.NetworkName(state.ChainID), state.BalanceNative)
	if !erc20.IsNative(q.FromToken.Address) {
		if balance, err := session.TokenBalance(ctx, q.FromToken.Address); err != nil {
			logger.Warn("token balance unavailable", zap.String("token", q.FromToken.Address), zap.Error(err))
		} else {
			fmt.Fprintf(out, "%s balance %s\n", q.FromToken.Symbol, balance)
		}
	}

	if !skipConfirm && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("swap with %.2f%% slippage?", cfg.Slippage)) {
		fmt.Fprintln(out, "aborted")
		return nil
	}

	tx, err := d.Swap(ctx)
	if tx.Hash != "" {
		fmt.Fprintf(out, "transaction %s: %s\n", tx.Hash, tx.Status)
	}
	if err != nil {
		return fmt.Errorf("swap: %w", err)
	}

	state = session.State()
	fmt.Fprintf(out, "confirmed in block %d, balance %s\n", tx.BlockNumber, state.BalanceNative)
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	journal, err := storage.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	deskCfg := desk.Config{Journal: journal, Logger: logger}

	node, nodeChain, err := openNode(ctx, cfg)
	if err != nil {
		return err
	}
	var receipts swap.ReceiptSource
	if node != nil {
		defer node.Close()
		receipts = node
		deskCfg.ReceiptChainID = nodeChain
	}

	var walletForSwap swap.Wallet
	if cfg.WalletRPC != "" {
		session, closeSession, err := openSession(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeSession()
		if _, err := session.Restore(ctx); err != nil {
			logger.Warn("wallet restore failed", zap.Error(err))
		}
		walletForSwap = session
		deskCfg.Wallet = session
		if receipts == nil {
			state := session.State()
			if !state.Connected() {
				return fmt.Errorf("wallet not connected and no node rpc configured")
			}
			receipts = session
			deskCfg.ReceiptChainID = state.ChainID
		}
	}
	if receipts == nil {
		return fmt.Errorf("node rpc or wallet rpc url is required")
	}

	deskCfg.Swapper = swap.NewExecutor(walletForSwap, nil, receipts, swap.Options{
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
		Hooks:        desk.JournalHooks(journal, logger),
		Logger:       logger,
	})
	d := desk.New(deskCfg)
	defer d.Close()

	results, err := d.Watch(ctx)
	if compactor, ok := journal.(interface{ Compact() error }); ok && err == nil {
		if cerr := compactor.Compact(); cerr != nil {
			logger.Warn("journal compaction failed", zap.Error(cerr))
		}
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 && err == nil {
		fmt.Fprintln(out, "no pending transactions")
		return nil
	}

	var latest uint64
	if node != nil && err == nil {
		head, herr := node.LatestBlockNumber(ctx)
		if herr != nil {
			logger.Warn("latest block unavailable", zap.Error(herr))
		}
		latest = head
	}
	renderWatch(out, results, latest)

	if node != nil && err == nil && (deskCfg.Wallet == nil || !deskCfg.Wallet.State().Connected()) {
		for _, owner := range confirmedSenders(results, nodeChain) {
			balance, berr := node.NativeBalance(ctx, owner)
			if berr != nil {
				logger.Warn("node balance unavailable", zap.String("address", owner), zap.Error(berr))
				continue
			}
			fmt.Fprintf(out, "%s balance on %s: %s\n", owner, wallet.NetworkName(nodeChain), balance)
		}
	}
	return err
}

// renderWatch prints one row per watched transaction. Confirmations are
// shown when latest, the node's head block, is known.
func renderWatch(out io.Writer, results []desk.WatchResult, latest uint64) {
	table := tablewriter.NewWriter(out)
	table.Header("Hash", "Kind", "Chain", "Status", "Block", "Confirmations", "Error")
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		confirmations := "-"
		if latest > 0 && r.Tx.Settled() && r.Tx.BlockNumber > 0 && latest >= r.Tx.BlockNumber {
			confirmations = strconv.FormatUint(latest-r.Tx.BlockNumber+1, 10)
		}
		table.Append(r.Tx.Hash, string(r.Tx.Kind), strconv.FormatUint(r.Tx.ChainID, 10), string(r.Tx.Status),
			strconv.FormatUint(r.Tx.BlockNumber, 10), confirmations, errText)
	}
	table.Render()
}

// confirmedSenders lists the distinct senders of transactions confirmed on
// chainID, in result order.
func confirmedSenders(results []desk.WatchResult, chainID uint64) []string {
	seen := map[string]bool{}
	var owners []string
	for _, r := range results {
		if r.Err != nil || r.Tx.Status != model.TxConfirmed || r.Tx.ChainID != chainID || r.Tx.From == "" {
			continue
		}
		key := strings.ToLower(r.Tx.From)
		if seen[key] {
			continue
		}
		seen[key] = true
		owners = append(owners, r.Tx.From)
	}
	return owners
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal, err := storage.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	d := desk.New(desk.Config{Journal: journal, Logger: logger})
	defer d.Close()

	entries, err := d.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "journal is empty")
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("Submitted", "Kind", "Chain", "Hash", "Status", "Block")
	for _, e := range entries {
		table.Append(
			e.Tx.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
			string(e.Tx.Kind),
			wallet.NetworkName(e.Tx.ChainID),
			e.Tx.Hash,
			string(e.Tx.Status),
			strconv.FormatUint(e.Tx.BlockNumber, 10),
		)
	}
	table.Render()
	return nil
}

func openSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (*wallet.Session, func(), error) {
	provider, err := rpcprovider.Dial(ctx, cfg.WalletRPC, rpcprovider.Options{
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	session := wallet.NewSession(provider, wallet.Options{
		ExpectedKind: cfg.WalletKind,
		Networks:     wallet.WithRPCURLs(cfg.NetworkRPC),
		Logger:       logger,
	})
	return session, func() {
		session.Close()
		provider.Close()
	}, nil
}

// openNode connects to the configured node RPC and returns the chain it
// serves. Without a node RPC it returns a nil client and the wallet serves
// receipts instead.
func openNode(ctx context.Context, cfg config.Config) (*chain.Client, uint64, error) {
	if cfg.NodeRPC == "" {
		return nil, 0, nil
	}
	client, err := chain.NewClient(ctx, cfg.NodeRPC)
	if err != nil {
		return nil, 0, fmt.Errorf("connect node rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, 0, fmt.Errorf("node chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID != cfg.ChainID {
		client.Close()
		return nil, 0, fmt.Errorf("node rpc serves chain %d, expected %d", chainID, cfg.ChainID)
	}
	return client, chainID, nil
}

func fillForm(form *quote.Form, cfg config.Config) {
	form.SetFromToken(cfg.FromToken)
	form.SetToToken(cfg.ToToken)
	form.SetAmount(cfg.Amount)
}

func renderQuote(out io.Writer, q model.Quote) {
	table := tablewriter.NewWriter(out)
	table.Header("Chain", "Sell", "Buy", "Route", "Gas")
	table.Append(
		wallet.NetworkName(q.ChainID),
		q.FromAmountDisplay+" "+q.FromToken.Symbol,
		q.ToAmountDisplay+" "+q.ToToken.Symbol,
		strings.Join(q.Protocols, ", "),
		strconv.FormatUint(q.EstimatedGas, 10),
	)
	table.Render()
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
