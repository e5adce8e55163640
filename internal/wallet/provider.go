// Package wallet manages a single injected-wallet session: connection,
// chain switching, balances and the transactions signed through it.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider is the EIP-1193 capability set of an injected wallet.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	SubscribeEvents(ch chan<- Event) event.Subscription
	// Kind identifies the wallet implementation, e.g. "metamask".
	Kind() string
}

type EventName string

const (
	EventAccountsChanged EventName = "accountsChanged"
	EventChainChanged    EventName = "chainChanged"
)

// Event is a provider notification. Accounts is set for accountsChanged,
// ChainID for chainChanged.
type Event struct {
	Name     EventName
	Accounts []string
	ChainID  uint64
}

// Provider error codes from EIP-1193 and EIP-3326.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnrecognizedChain = 4902
)

var (
	ErrNoProviderInstalled = errors.New("no wallet provider installed")
	ErrUnsupportedWallet   = errors.New("unsupported wallet")
	ErrUserRejected        = errors.New("user rejected the request")
	ErrNetworkSwitch       = errors.New("network switch failed")
	ErrCall                = errors.New("contract call failed")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrStateChanged        = errors.New("wallet state changed during operation")
	ErrNoAccounts          = errors.New("wallet returned no accounts")
)

// ProviderError is a coded provider failure. It satisfies rpc.Error so coded
// errors from go-ethereum RPC clients and from in-process providers are
// inspected the same way.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string  { return fmt.Sprintf("provider error %d: %s", e.Code, e.Message) }
func (e *ProviderError) ErrorCode() int { return e.Code }

var _ rpc.Error = (*ProviderError)(nil)

// ErrorCode extracts a provider error code from err.
func ErrorCode(err error) (int, bool) {
	var coded rpc.Error
	if errors.As(err, &coded) {
		return coded.ErrorCode(), true
	}
	return 0, false
}

func isRejected(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeUserRejected
}

// classify maps a provider failure onto the wallet error taxonomy, keeping
// the original error in the chain.
func classify(base error, err error) error {
	if isRejected(err) {
		if base == nil {
			return fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
		return fmt.Errorf("%w: %w: %w", base, ErrUserRejected, err)
	}
	if base == nil {
		return err
	}
	return fmt.Errorf("%w: %w", base, err)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
