package swap

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/msbkrkyn/defi-yield-tracker/internal/aggregator"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const (
	owner   = "0x00000000000000000000000000000000000000A1"
	router  = "0x1111111254fb6c44bAC0beD2854e76F90643097d"
	usdc    = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	weth    = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	native  = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	swapTx  = "0x00000000000000000000000000000000000000000000000000000000000000bb"
	approve = "0x00000000000000000000000000000000000000000000000000000000000000aa"
)

// recorder is shared by the fakes so call order across them can be asserted.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	r.log = append(r.log, entry)
	r.mu.Unlock()
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

type fakeWallet struct {
	rec       *recorder
	state     model.WalletState
	allowance *big.Int
	sendErr   map[string]error
	receipts  map[string][]*model.Receipt
	polls     map[string]int
	sentChain []uint64
	// onReceipt runs with mu held after each scripted receipt is handed out.
	onReceipt func(w *fakeWallet, hash string)
	mu        sync.Mutex
}

func newFakeWallet(rec *recorder) *fakeWallet {
	return &fakeWallet{
		rec:       rec,
		state:     model.WalletState{Address: owner, ChainID: 1, Status: model.StatusConnected, BalanceNative: "1.000000"},
		allowance: big.NewInt(0),
		sendErr:   map[string]error{},
		receipts: map[string][]*model.Receipt{
			approve: {{TxHash: approve, Status: 1, BlockNumber: 10}},
			swapTx:  {{TxHash: swapTx, Status: 1, BlockNumber: 11}},
		},
		polls: map[string]int{},
	}
}

func (w *fakeWallet) State() model.WalletState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *fakeWallet) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch hex.EncodeToString(msg.Data[:4]) {
	case "dd62ed3e":
		w.rec.add("allowance")
		return common.LeftPadBytes(w.allowance.Bytes(), 32), nil
	}
	return nil, errors.New("unexpected call")
}

func (w *fakeWallet) SendTransaction(_ context.Context, tx model.TxRequest) (string, error) {
	kind := "swap"
	if strings.HasPrefix(tx.Data, "0x095ea7b3") {
		kind = "approve"
	}
	w.rec.add("send:" + kind)
	if err := w.sendErr[kind]; err != nil {
		return "", err
	}
	w.mu.Lock()
	w.sentChain = append(w.sentChain, tx.ChainID)
	current := w.state.ChainID
	w.mu.Unlock()
	if tx.ChainID != 0 && tx.ChainID != current {
		return "", errors.New("wallet on another chain")
	}
	if kind == "approve" {
		return approve, nil
	}
	return swapTx, nil
}

// TransactionReceipt pops scripted receipts; nil entries mean pending.
func (w *fakeWallet) TransactionReceipt(_ context.Context, hash string) (*model.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.polls[hash]++
	w.rec.add("receipt:" + kindOf(hash))
	queue := w.receipts[hash]
	if len(queue) == 0 {
		return nil, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		w.receipts[hash] = queue[1:]
	}
	if w.onReceipt != nil {
		w.onReceipt(w, hash)
	}
	return next, nil
}

func kindOf(hash string) string {
	if hash == approve {
		return "approve"
	}
	return "swap"
}

type fakeAggregator struct {
	rec        *recorder
	spenderErr error
	lastSwap   aggregator.SwapParams
}

func (a *fakeAggregator) Spender(context.Context, uint64) (string, error) {
	a.rec.add("spender")
	if a.spenderErr != nil {
		return "", a.spenderErr
	}
	return router, nil
}

func (a *fakeAggregator) Swap(_ context.Context, p aggregator.SwapParams) (*aggregator.SwapResponse, error) {
	a.rec.add("build:swap")
	a.lastSwap = p
	return &aggregator.SwapResponse{
		ToTokenAmount: "1",
		Tx:            aggregator.SwapTx{From: p.FromAddress, To: router, Data: "0x12aa3caf", Value: "0", Gas: 200000},
	}, nil
}

func testQuote(fromToken string) model.Quote {
	return model.Quote{
		ChainID:           1,
		FromToken:         model.Token{Address: fromToken, Symbol: "USDC", Decimals: 6},
		ToToken:           model.Token{Address: weth, Symbol: "WETH", Decimals: 18},
		FromAmount:        "1500000",
		FromAmountDisplay: "1.500000",
		ToAmountEstimate:  "1",
	}
}
