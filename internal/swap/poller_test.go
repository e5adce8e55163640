package swap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

type scriptedSource struct {
	results []*model.Receipt
	errs    []error
	calls   int
}

func (s *scriptedSource) TransactionReceipt(context.Context, string) (*model.Receipt, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return nil, nil
}

func TestPollerPendingTwiceThenSuccess(t *testing.T) {
	src := &scriptedSource{results: []*model.Receipt{nil, nil, {Status: 1, BlockNumber: 5}}}
	p := &Poller{Source: src, Interval: time.Millisecond}

	r, err := p.Wait(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.Equal(t, 3, src.calls)
}

func TestPollerContinuesAfterTransientErrors(t *testing.T) {
	src := &scriptedSource{
		results: []*model.Receipt{nil, nil, {Status: 0}},
		errs:    []error{errors.New("timeout"), nil, nil},
	}
	p := &Poller{Source: src, Interval: time.Millisecond}

	r, err := p.Wait(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, r.Succeeded())
	assert.Equal(t, 3, src.calls)
}

func TestPollerStopsOnCancel(t *testing.T) {
	src := &scriptedSource{}
	p := &Poller{Source: src, Interval: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx, "0xabc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, src.calls)
}

func TestPollerMaxPolls(t *testing.T) {
	src := &scriptedSource{}
	p := &Poller{Source: src, Interval: time.Millisecond, MaxPolls: 4}

	_, err := p.Wait(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrReceiptTimeout)
	assert.Equal(t, 4, src.calls)
}
