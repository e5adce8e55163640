// Package rpcprovider exposes a wallet JSON-RPC endpoint (a signer such as
// Frame or Clef, or a browser bridge) as a wallet.Provider. Account and chain
// changes are detected by polling.
package rpcprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/wallet"
)

const defaultPollInterval = 2 * time.Second

type Options struct {
	// Kind overrides the wallet kind reported by web3_clientVersion.
	Kind         string
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Provider implements wallet.Provider over a go-ethereum RPC client.
type Provider struct {
	client   *rpc.Client
	kind     string
	interval time.Duration
	logger   *zap.Logger

	feed  event.Feed
	start sync.Once
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	accounts []string
	chainID  uint64
	primed   bool
}

// Dial connects to a wallet RPC endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc: %w", err)
	}
	p := New(client, opts)
	if p.kind == "" {
		p.kind = detectKind(ctx, client)
	}
	return p, nil
}

// New wraps an existing RPC client.
func New(client *rpc.Client, opts Options) *Provider {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		client:   client,
		kind:     strings.ToLower(opts.Kind),
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Close stops the change watcher and closes the RPC client.
func (p *Provider) Close() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}
	p.wg.Wait()
	p.client.Close()
}

func (p *Provider) Kind() string { return p.kind }

// Request forwards a JSON-RPC call. Coded RPC errors keep their code.
func (p *Provider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// SubscribeEvents starts the change watcher on first use.
func (p *Provider) SubscribeEvents(ch chan<- wallet.Event) event.Subscription {
	sub := p.feed.Subscribe(ch)
	p.start.Do(func() {
		p.wg.Add(1)
		go p.watch()
	})
	return sub
}

func (p *Provider) watch() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll()
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
	}
}

func (p *Provider) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		p.logger.Debug("poll accounts failed", zap.Error(err))
		return
	}
	var chainID hexutil.Uint64
	if err := p.client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		p.logger.Debug("poll chain id failed", zap.Error(err))
		return
	}

	for _, ev := range p.diff(accounts, uint64(chainID)) {
		p.feed.Send(ev)
	}
}

// diff records the latest observation and returns the events it implies.
// The first observation only establishes the baseline.
func (p *Provider) diff(accounts []string, chainID uint64) []wallet.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.primed {
		p.accounts, p.chainID, p.primed = accounts, chainID, true
		return nil
	}

	var events []wallet.Event
	if !sameAccounts(p.accounts, accounts) {
		events = append(events, wallet.Event{Name: wallet.EventAccountsChanged, Accounts: accounts})
	}
	if p.chainID != chainID {
		events = append(events, wallet.Event{Name: wallet.EventChainChanged, ChainID: chainID})
	}
	p.accounts, p.chainID = accounts, chainID
	return events
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// detectKind derives a wallet kind from web3_clientVersion, e.g.
// "MetaMask/v11.0.0" becomes "metamask".
func detectKind(ctx context.Context, client *rpc.Client) string {
	var version string
	if err := client.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		return "unknown"
	}
	name, _, _ := strings.Cut(version, "/")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unknown"
	}
	return name
}
