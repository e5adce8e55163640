// Package swap runs the allowance, approval, submission and confirmation
// steps of an aggregator swap.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/aggregator"
	"github.com/msbkrkyn/defi-yield-tracker/internal/amount"
	"github.com/msbkrkyn/defi-yield-tracker/internal/erc20"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const (
	DefaultSlippage    = 1.0
	DefaultApprovalGas = 90000
)

var (
	ErrStateMismatch  = errors.New("wallet state does not match quote")
	ErrApprovalFailed = errors.New("token approval failed")
	ErrSwapFailed     = errors.New("swap transaction failed")
)

// Wallet signs and reads through the connected account.
type Wallet interface {
	State() model.WalletState
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx model.TxRequest) (string, error)
}

// Aggregator supplies the approval spender and swap call data.
type Aggregator interface {
	Spender(ctx context.Context, chainID uint64) (string, error)
	Swap(ctx context.Context, p aggregator.SwapParams) (*aggregator.SwapResponse, error)
}

// Hooks observe transactions as soon as their hash is known and again when
// they settle. Both approvals and swaps are reported.
type Hooks struct {
	OnSubmitted func(model.SwapTransaction)
	OnSettled   func(model.SwapTransaction)
}

type Options struct {
	// Slippage is a percentage, 1 means 1%.
	Slippage     float64
	ApprovalGas  uint64
	PollInterval time.Duration
	MaxPolls     int
	Hooks        Hooks
	Logger       *zap.Logger
}

// Executor drives one swap at a time per call; it holds no per-swap state.
type Executor struct {
	wallet      Wallet
	agg         Aggregator
	poller      *Poller
	slippage    float64
	approvalGas uint64
	hooks       Hooks
	logger      *zap.Logger
	now         func() time.Time
}

// NewExecutor builds an executor. receipts defaults to the wallet when it
// can serve receipts itself.
func NewExecutor(w Wallet, agg Aggregator, receipts ReceiptSource, opts Options) *Executor {
	if receipts == nil {
		receipts, _ = w.(ReceiptSource)
	}
	slippage := opts.Slippage
	if slippage <= 0 {
		slippage = DefaultSlippage
	}
	gas := opts.ApprovalGas
	if gas == 0 {
		gas = DefaultApprovalGas
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		wallet: w,
		agg:    agg,
		poller: &Poller{
			Source:   receipts,
			Interval: opts.PollInterval,
			MaxPolls: opts.MaxPolls,
			Logger:   logger,
		},
		slippage:    slippage,
		approvalGas: gas,
		hooks:       opts.Hooks,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute submits the swap for q and waits for its receipt.
func (e *Executor) Execute(ctx context.Context, q model.Quote, ws model.WalletState) (model.SwapTransaction, error) {
	tx, err := e.Submit(ctx, q, ws)
	if err != nil {
		return tx, err
	}
	return e.Wait(ctx, tx)
}

// Submit approves the router when needed and broadcasts the swap. The
// returned transaction is pending.
func (e *Executor) Submit(ctx context.Context, q model.Quote, ws model.WalletState) (model.SwapTransaction, error) {
	if err := e.checkState(q, ws); err != nil {
		return model.SwapTransaction{}, err
	}
	required, err := amount.ParseBaseUnits(q.FromAmount)
	if err != nil || required.Sign() <= 0 {
		return model.SwapTransaction{}, fmt.Errorf("invalid quote amount %q", q.FromAmount)
	}

	if !erc20.IsNative(q.FromToken.Address) {
		if err := e.ensureAllowance(ctx, q, ws.Address, required); err != nil {
			return model.SwapTransaction{}, err
		}
		// The approval wait can be long; the wallet may have moved since.
		if err := e.checkState(q, ws); err != nil {
			return model.SwapTransaction{}, err
		}
	}

	resp, err := e.agg.Swap(ctx, aggregator.SwapParams{
		QuoteParams: aggregator.QuoteParams{
			ChainID:   q.ChainID,
			FromToken: q.FromToken.Address,
			ToToken:   q.ToToken.Address,
			Amount:    q.FromAmount,
		},
		FromAddress: ws.Address,
		Slippage:    e.slippage,
	})
	if err != nil {
		return model.SwapTransaction{}, fmt.Errorf("build swap: %w", err)
	}

	req := resp.Tx.Request()
	if req.From == "" {
		req.From = ws.Address
	}
	req.ChainID = q.ChainID
	hash, err := e.wallet.SendTransaction(ctx, req)
	if err != nil {
		return model.SwapTransaction{}, fmt.Errorf("submit swap: %w", err)
	}

	tx := model.SwapTransaction{
		Hash:        hash,
		ChainID:     q.ChainID,
		Kind:        model.TxSwap,
		Status:      model.TxPending,
		From:        ws.Address,
		FromToken:   q.FromToken.Address,
		ToToken:     q.ToToken.Address,
		FromAmount:  q.FromAmount,
		SubmittedAt: e.now().UTC(),
	}
	e.logger.Info("swap submitted", zap.String("tx", hash), zap.Uint64("chain_id", q.ChainID),
		zap.String("from_token", q.FromToken.Symbol), zap.String("to_token", q.ToToken.Symbol),
		zap.String("amount", q.FromAmountDisplay))
	e.submitted(tx)
	return tx, nil
}

// Wait polls until tx settles. On error the returned transaction still
// carries the hash and its last known status.
func (e *Executor) Wait(ctx context.Context, tx model.SwapTransaction) (model.SwapTransaction, error) {
	receipt, err := e.poller.Wait(ctx, tx.Hash)
	if err != nil {
		return tx, fmt.Errorf("wait for %s %s: %w", tx.Kind, tx.Hash, err)
	}

	tx = settle(tx, receipt, e.now())
	e.settled(tx)
	if tx.Status == model.TxFailed {
		e.logger.Warn("transaction reverted", zap.String("tx", tx.Hash), zap.String("kind", string(tx.Kind)), zap.Uint64("block", tx.BlockNumber))
		return tx, fmt.Errorf("%w: %s reverted in block %d", ErrSwapFailed, tx.Hash, tx.BlockNumber)
	}
	e.logger.Info("transaction confirmed", zap.String("tx", tx.Hash), zap.String("kind", string(tx.Kind)), zap.Uint64("block", tx.BlockNumber))
	return tx, nil
}

func (e *Executor) checkState(q model.Quote, ws model.WalletState) error {
	if !ws.Connected() {
		return fmt.Errorf("%w: wallet is %s", ErrStateMismatch, ws.Status)
	}
	if ws.ChainID != q.ChainID {
		return fmt.Errorf("%w: wallet on chain %d, quote for chain %d", ErrStateMismatch, ws.ChainID, q.ChainID)
	}
	live := e.wallet.State()
	if !live.Connected() || live.ChainID != ws.ChainID || !strings.EqualFold(live.Address, ws.Address) {
		return fmt.Errorf("%w: wallet changed since the quote was taken", ErrStateMismatch)
	}
	if e.poller.Source == nil {
		return fmt.Errorf("no receipt source configured")
	}
	return nil
}

// ensureAllowance approves exactly the required amount when the current
// allowance is short and waits for the approval to confirm.
func (e *Executor) ensureAllowance(ctx context.Context, q model.Quote, owner string, required *big.Int) error {
	spender, err := e.agg.Spender(ctx, q.ChainID)
	if err != nil {
		return fmt.Errorf("%w: load spender: %w", ErrApprovalFailed, err)
	}
	if !common.IsHexAddress(spender) {
		return fmt.Errorf("%w: invalid spender %q", ErrApprovalFailed, spender)
	}
	token := common.HexToAddress(q.FromToken.Address)
	spenderAddr := common.HexToAddress(spender)

	allowance, err := erc20.Allowance(ctx, e.wallet, token, common.HexToAddress(owner), spenderAddr)
	if err != nil {
		return fmt.Errorf("%w: read allowance: %w", ErrApprovalFailed, err)
	}
	if allowance.Cmp(required) >= 0 {
		e.logger.Debug("allowance sufficient", zap.String("token", token.Hex()), zap.String("allowance", allowance.String()))
		return nil
	}

	data, err := erc20.PackApprove(spenderAddr, required)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	hash, err := e.wallet.SendTransaction(ctx, model.TxRequest{
		From:    owner,
		To:      token.Hex(),
		Data:    hexutil.Encode(data),
		Value:   "0",
		Gas:     e.approvalGas,
		ChainID: q.ChainID,
	})
	if err != nil {
		return fmt.Errorf("%w: submit approval: %w", ErrApprovalFailed, err)
	}

	approval := model.SwapTransaction{
		Hash:        hash,
		ChainID:     q.ChainID,
		Kind:        model.TxApprove,
		Status:      model.TxPending,
		From:        owner,
		FromToken:   token.Hex(),
		FromAmount:  required.String(),
		SubmittedAt: e.now().UTC(),
	}
	e.logger.Info("approval submitted", zap.String("tx", hash), zap.String("token", token.Hex()), zap.String("spender", spender))
	e.submitted(approval)

	receipt, err := e.poller.Wait(ctx, hash)
	if err != nil {
		return fmt.Errorf("%w: wait for approval %s: %w", ErrApprovalFailed, hash, err)
	}
	approval = settle(approval, receipt, e.now())
	e.settled(approval)
	if approval.Status == model.TxFailed {
		return fmt.Errorf("%w: approval %s reverted in block %d", ErrApprovalFailed, hash, approval.BlockNumber)
	}
	e.logger.Info("approval confirmed", zap.String("tx", hash), zap.Uint64("block", approval.BlockNumber))
	return nil
}

func (e *Executor) submitted(tx model.SwapTransaction) {
	if e.hooks.OnSubmitted != nil {
		e.hooks.OnSubmitted(tx)
	}
}

func (e *Executor) settled(tx model.SwapTransaction) {
	if e.hooks.OnSettled != nil {
		e.hooks.OnSettled(tx)
	}
}

func settle(tx model.SwapTransaction, receipt *model.Receipt, now time.Time) model.SwapTransaction {
	tx.BlockNumber = receipt.BlockNumber
	tx.SettledAt = now.UTC()
	if receipt.Succeeded() {
		tx.Status = model.TxConfirmed
	} else {
		tx.Status = model.TxFailed
	}
	return tx
}
