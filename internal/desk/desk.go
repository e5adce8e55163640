// Package desk owns the application-scope wiring between the wallet session,
// the swap form, the swap executor and the transaction journal.
package desk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
	"github.com/msbkrkyn/defi-yield-tracker/internal/quote"
	"github.com/msbkrkyn/defi-yield-tracker/internal/storage"
	"github.com/msbkrkyn/defi-yield-tracker/internal/swap"
	"github.com/msbkrkyn/defi-yield-tracker/internal/wallet"
)

const (
	defaultWatchConcurrency = 8
	journalWriteTimeout     = 5 * time.Second
)

var (
	ErrNoQuote    = errors.New("no quote for the current inputs")
	ErrOtherChain = errors.New("transaction belongs to another chain")
)

// Wallet is satisfied by *wallet.Session.
type Wallet interface {
	State() model.WalletState
	SubscribeState(ch chan<- wallet.StateChange) event.Subscription
	RefreshBalance(ctx context.Context)
}

// Swapper is satisfied by *swap.Executor.
type Swapper interface {
	Execute(ctx context.Context, q model.Quote, ws model.WalletState) (model.SwapTransaction, error)
	Wait(ctx context.Context, tx model.SwapTransaction) (model.SwapTransaction, error)
}

// TokenCache is satisfied by *quote.Service.
type TokenCache interface {
	ResetTokens(chainID uint64)
}

type Config struct {
	Wallet  Wallet
	Form    *quote.Form
	Tokens  TokenCache
	Swapper Swapper
	Journal storage.Journal
	// ReceiptChainID is the chain the swapper's receipt source serves. Zero
	// means the connected wallet's chain.
	ReceiptChainID uint64
	// WatchConcurrency bounds the receipt pollers Watch runs at once.
	WatchConcurrency int
	Logger           *zap.Logger
}

// Desk invalidates chain-dependent state when the wallet changes and runs
// swaps against the current quote.
type Desk struct {
	wallet      Wallet
	form        *quote.Form
	tokens      TokenCache
	swapper     Swapper
	journal     storage.Journal
	receiptsOn  uint64
	concurrency int
	logger      *zap.Logger

	changes   chan wallet.StateChange
	sub       event.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New subscribes to wallet state changes. Close releases the subscription.
func New(cfg Config) *Desk {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.WatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultWatchConcurrency
	}
	d := &Desk{
		wallet:      cfg.Wallet,
		form:        cfg.Form,
		tokens:      cfg.Tokens,
		swapper:     cfg.Swapper,
		journal:     cfg.Journal,
		receiptsOn:  cfg.ReceiptChainID,
		concurrency: concurrency,
		logger:      logger,
	}
	if d.wallet != nil {
		d.changes = make(chan wallet.StateChange, 16)
		d.sub = d.wallet.SubscribeState(d.changes)
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

func (d *Desk) Close() {
	d.closeOnce.Do(func() {
		if d.sub != nil {
			d.sub.Unsubscribe()
		}
		d.wg.Wait()
	})
}

func (d *Desk) Form() *quote.Form { return d.form }

func (d *Desk) loop() {
	defer d.wg.Done()
	for {
		select {
		case change := <-d.changes:
			d.handle(change)
		case err, ok := <-d.sub.Err():
			if ok && err != nil {
				d.logger.Warn("wallet subscription failed", zap.Error(err))
			}
			return
		}
	}
}

func (d *Desk) handle(change wallet.StateChange) {
	current := d.formChain()
	chainID := change.State.ChainID
	if chainID == 0 {
		chainID = current
	}

	switch change.Reason {
	case wallet.ReasonChainChanged, wallet.ReasonAccountsChanged, wallet.ReasonDisconnected:
		d.Invalidate(chainID)
	case wallet.ReasonConnected:
		if chainID != current {
			d.Invalidate(chainID)
		}
	}
}

func (d *Desk) formChain() uint64 {
	if d.form == nil {
		return 0
	}
	chainID, _ := d.form.Input()
	return chainID
}

// Invalidate drops every chain-dependent value: form inputs, the current
// quote and cached token lists.
func (d *Desk) Invalidate(chainID uint64) {
	if d.form != nil {
		d.form.Reset(chainID)
	}
	if d.tokens != nil {
		d.tokens.ResetTokens(0)
	}
	d.logger.Info("chain state invalidated", zap.Uint64("chain_id", chainID))
}

// Swap executes the form's current quote with the wallet's current state and
// refreshes the balance once the swap confirms.
func (d *Desk) Swap(ctx context.Context) (model.SwapTransaction, error) {
	if d.swapper == nil {
		return model.SwapTransaction{}, fmt.Errorf("swap executor not configured")
	}
	q, ok := d.form.Quote()
	if !ok {
		return model.SwapTransaction{}, ErrNoQuote
	}

	tx, err := d.swapper.Execute(ctx, q, d.wallet.State())
	if err != nil {
		return tx, err
	}
	d.wallet.RefreshBalance(ctx)
	return tx, nil
}

// WatchResult is the outcome of waiting on one journaled transaction.
type WatchResult struct {
	Tx  model.SwapTransaction
	Err error
}

// Watch resumes polling for every pending journal entry on the receipt
// chain, one poller per hash, and returns once all of them settled or failed.
// Entries from other chains are reported with ErrOtherChain and left pending.
// Only cancellation of ctx is returned as an error.
func (d *Desk) Watch(ctx context.Context) ([]WatchResult, error) {
	if d.journal == nil || d.swapper == nil {
		return nil, fmt.Errorf("journal and swap executor are required")
	}
	pending, err := d.journal.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	chainID := d.receiptChain()
	d.logger.Info("resuming pending transactions", zap.Int("count", len(pending)), zap.Uint64("chain_id", chainID))

	results := make([]WatchResult, len(pending))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, entry := range pending {
		tx := entry.Tx
		if chainID != 0 && tx.ChainID != 0 && tx.ChainID != chainID {
			results[i] = WatchResult{Tx: tx, Err: fmt.Errorf("%w: %s is on chain %d, receipts come from chain %d", ErrOtherChain, tx.Hash, tx.ChainID, chainID)}
			continue
		}
		g.Go(func() error {
			settled, err := d.swapper.Wait(ctx, tx)
			results[i] = WatchResult{Tx: settled, Err: err}
			if err != nil && ctx.Err() == nil {
				d.logger.Warn("pending transaction not settled", zap.String("tx", tx.Hash), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}

	if d.wallet != nil && d.wallet.State().Connected() {
		for _, r := range results {
			if r.Err == nil && r.Tx.Status == model.TxConfirmed {
				d.wallet.RefreshBalance(ctx)
				break
			}
		}
	}
	return results, nil
}

func (d *Desk) receiptChain() uint64 {
	if d.receiptsOn != 0 {
		return d.receiptsOn
	}
	if d.wallet != nil {
		if st := d.wallet.State(); st.Connected() {
			return st.ChainID
		}
	}
	return 0
}

// Recent lists the latest journal entries.
func (d *Desk) Recent(ctx context.Context, limit int) ([]storage.Entry, error) {
	if d.journal == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	return d.journal.Recent(ctx, limit)
}

// JournalHooks records every submitted and settled transaction in j.
// Journal failures are logged and never fail the swap.
func JournalHooks(j storage.Journal, logger *zap.Logger) swap.Hooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	record := func(tx model.SwapTransaction) {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if _, err := j.Record(ctx, tx); err != nil {
			logger.Error("journal write failed", zap.String("tx", tx.Hash), zap.String("status", string(tx.Status)), zap.Error(err))
		}
	}
	return swap.Hooks{OnSubmitted: record, OnSettled: record}
}
