package quote

import (
	"context"
	"errors"
	"sync"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

// ErrStale is returned by Refresh when the inputs changed while the quote
// was being fetched. The late result is discarded.
var ErrStale = errors.New("quote inputs changed")

// Quoter is satisfied by Service.
type Quoter interface {
	GetQuote(ctx context.Context, chainID uint64, fromToken, toToken, amount string) (model.Quote, error)
}

// Input is the triple a quote is bound to.
type Input struct {
	FromToken string
	ToToken   string
	Amount    string
}

// Form holds swap inputs and the quote computed for them. Every edit clears
// the quote before returning, so a quote is only ever visible next to the
// inputs it was computed for.
type Form struct {
	quoter Quoter

	mu      sync.Mutex
	chainID uint64
	input   Input
	gen     uint64
	quote   *model.Quote
}

func NewForm(quoter Quoter, chainID uint64) *Form {
	return &Form{quoter: quoter, chainID: chainID}
}

func (f *Form) SetFromToken(token string) { f.edit(func(in *Input) { in.FromToken = token }) }
func (f *Form) SetToToken(token string)   { f.edit(func(in *Input) { in.ToToken = token }) }
func (f *Form) SetAmount(amount string)   { f.edit(func(in *Input) { in.Amount = amount }) }

// Flip swaps the from and to tokens.
func (f *Form) Flip() {
	f.edit(func(in *Input) { in.FromToken, in.ToToken = in.ToToken, in.FromToken })
}

// Reset clears every input for a new chain.
func (f *Form) Reset(chainID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = chainID
	f.input = Input{}
	f.gen++
	f.quote = nil
}

func (f *Form) edit(apply func(*Input)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(&f.input)
	f.gen++
	f.quote = nil
}

// Input returns the current inputs and chain.
func (f *Form) Input() (uint64, Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, f.input
}

// Quote returns the quote for the current inputs, if one is available.
func (f *Form) Quote() (model.Quote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quote == nil {
		return model.Quote{}, false
	}
	return *f.quote, true
}

// Refresh fetches a quote for the current inputs. The result is applied only
// if no edit happened meanwhile; otherwise ErrStale is returned.
func (f *Form) Refresh(ctx context.Context) (model.Quote, error) {
	f.mu.Lock()
	chainID, in, gen := f.chainID, f.input, f.gen
	f.mu.Unlock()

	q, err := f.quoter.GetQuote(ctx, chainID, in.FromToken, in.ToToken, in.Amount)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return model.Quote{}, ErrStale
	}
	if err != nil {
		f.quote = nil
		return model.Quote{}, err
	}
	f.quote = &q
	return q, nil
}
