package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

func newTestExecutor(w *fakeWallet, agg *fakeAggregator, hooks Hooks) *Executor {
	return NewExecutor(w, agg, nil, Options{PollInterval: time.Millisecond, MaxPolls: 20, Hooks: hooks})
}

func TestExecuteApprovesBeforeSwap(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	agg := &fakeAggregator{rec: rec}

	var submitted []model.SwapTransaction
	exec := newTestExecutor(w, agg, Hooks{OnSubmitted: func(tx model.SwapTransaction) { submitted = append(submitted, tx) }})

	tx, err := exec.Execute(context.Background(), testQuote(usdc), w.State())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"spender",
		"allowance",
		"send:approve",
		"receipt:approve",
		"build:swap",
		"send:swap",
		"receipt:swap",
	}, rec.entries())
	assert.Equal(t, model.TxConfirmed, tx.Status)
	assert.Equal(t, swapTx, tx.Hash)
	assert.Equal(t, uint64(11), tx.BlockNumber)
	assert.Equal(t, 1.0, agg.lastSwap.Slippage)

	require.Len(t, submitted, 2)
	assert.Equal(t, model.TxApprove, submitted[0].Kind)
	assert.Equal(t, model.TxSwap, submitted[1].Kind)
	assert.Equal(t, model.TxPending, submitted[1].Status)
}

func TestExecuteSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	w.allowance = big.NewInt(1500000)

	_, err := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{}).Execute(context.Background(), testQuote(usdc), w.State())
	require.NoError(t, err)
	assert.NotContains(t, rec.entries(), "send:approve")
}

func TestExecuteNativeTokenSkipsAllowance(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)

	_, err := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{}).Execute(context.Background(), testQuote(native), w.State())
	require.NoError(t, err)
	assert.Equal(t, []string{"build:swap", "send:swap", "receipt:swap"}, rec.entries())
}

func TestApprovalFailureIsTerminal(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	w.receipts[approve] = []*model.Receipt{{TxHash: approve, Status: 0, BlockNumber: 10}}

	_, err := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{}).Execute(context.Background(), testQuote(usdc), w.State())
	assert.ErrorIs(t, err, ErrApprovalFailed)
	assert.NotContains(t, rec.entries(), "send:swap")
	assert.NotContains(t, rec.entries(), "build:swap")
}

func TestApprovalRejectedIsTerminal(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	w.sendErr["approve"] = errors.New("user rejected")

	_, err := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{}).Execute(context.Background(), testQuote(usdc), w.State())
	assert.ErrorIs(t, err, ErrApprovalFailed)
	assert.Equal(t, 1, countOf(rec.entries(), "send:approve"))
}

func TestSpenderFailureIsApprovalFailure(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)

	_, err := newTestExecutor(w, &fakeAggregator{rec: rec, spenderErr: errors.New("down")}, Hooks{}).
		Execute(context.Background(), testQuote(usdc), w.State())
	assert.ErrorIs(t, err, ErrApprovalFailed)
}

func TestSwapRevertedKeepsHash(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	w.allowance = big.NewInt(1 << 40)
	w.receipts[swapTx] = []*model.Receipt{{TxHash: swapTx, Status: 0, BlockNumber: 12}}

	var settled model.SwapTransaction
	exec := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{OnSettled: func(tx model.SwapTransaction) { settled = tx }})

	tx, err := exec.Execute(context.Background(), testQuote(usdc), w.State())
	assert.ErrorIs(t, err, ErrSwapFailed)
	assert.Equal(t, swapTx, tx.Hash)
	assert.Equal(t, model.TxFailed, tx.Status)
	assert.Equal(t, model.TxFailed, settled.Status)
	assert.Contains(t, err.Error(), swapTx)
}

func TestStateMismatch(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	exec := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{})

	disconnected := model.WalletState{Status: model.StatusDisconnected}
	_, err := exec.Execute(context.Background(), testQuote(usdc), disconnected)
	assert.ErrorIs(t, err, ErrStateMismatch)

	otherChain := w.State()
	otherChain.ChainID = 56
	_, err = exec.Execute(context.Background(), testQuote(usdc), otherChain)
	assert.ErrorIs(t, err, ErrStateMismatch)

	stale := w.State()
	w.mu.Lock()
	w.state.Address = "0x00000000000000000000000000000000000000B2"
	w.mu.Unlock()
	_, err = exec.Execute(context.Background(), testQuote(usdc), stale)
	assert.ErrorIs(t, err, ErrStateMismatch)

	assert.Empty(t, rec.entries())
}

func TestChainSwitchDuringApprovalStopsSwap(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	w.onReceipt = func(w *fakeWallet, hash string) {
		if hash == approve {
			w.state.ChainID = 56
		}
	}
	exec := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{})

	tx, err := exec.Execute(context.Background(), testQuote(usdc), w.State())
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Empty(t, tx.Hash)
	assert.NotContains(t, rec.entries(), "build:swap")
	assert.NotContains(t, rec.entries(), "send:swap")
	assert.Equal(t, []uint64{1}, w.sentChain)
}

func TestSwapRequestsCarryQuoteChain(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)

	_, err := newTestExecutor(w, &fakeAggregator{rec: rec}, Hooks{}).Execute(context.Background(), testQuote(usdc), w.State())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 1}, w.sentChain)
}

func TestWaitTimeoutKeepsPendingTx(t *testing.T) {
	rec := &recorder{}
	w := newFakeWallet(rec)
	w.receipts[swapTx] = nil
	exec := NewExecutor(w, &fakeAggregator{rec: rec}, nil, Options{PollInterval: time.Millisecond, MaxPolls: 3})

	tx, err := exec.Wait(context.Background(), model.SwapTransaction{Hash: swapTx, Kind: model.TxSwap, Status: model.TxPending})
	assert.ErrorIs(t, err, ErrReceiptTimeout)
	assert.Equal(t, model.TxPending, tx.Status)
	assert.Equal(t, swapTx, tx.Hash)
	assert.Equal(t, 3, w.polls[swapTx])
}

func countOf(items []string, want string) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}
