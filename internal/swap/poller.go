package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const DefaultPollInterval = 2 * time.Second

var ErrReceiptTimeout = errors.New("receipt not available")

// ReceiptSource returns a receipt, or nil while the transaction is pending.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash string) (*model.Receipt, error)
}

// Poller waits for one transaction receipt at a time. The first check is
// immediate; later checks run every Interval. MaxPolls of zero polls until
// ctx is done.
type Poller struct {
	Source   ReceiptSource
	Interval time.Duration
	MaxPolls int
	Logger   *zap.Logger
}

// Wait polls until a receipt for hash is available.
func (p *Poller) Wait(ctx context.Context, hash string) (*model.Receipt, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		receipt, err := p.Source.TransactionReceipt(ctx, hash)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			logger.Warn("receipt poll failed", zap.String("tx", hash), zap.Int("poll", polls), zap.Error(err))
		case receipt != nil:
			logger.Debug("receipt found", zap.String("tx", hash), zap.Int("polls", polls), zap.Uint64("status", receipt.Status))
			return receipt, nil
		}

		if p.MaxPolls > 0 && polls >= p.MaxPolls {
			return nil, fmt.Errorf("%w: %s after %d polls", ErrReceiptTimeout, hash, polls)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
