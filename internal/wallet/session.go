package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/msbkrkyn/defi-yield-tracker/internal/amount"
	"github.com/msbkrkyn/defi-yield-tracker/internal/erc20"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const DefaultKind = "metamask"

// Reason explains why the session state changed.
type Reason string

const (
	ReasonConnecting      Reason = "connecting"
	ReasonConnected       Reason = "connected"
	ReasonDisconnected    Reason = "disconnected"
	ReasonError           Reason = "error"
	ReasonAccountsChanged Reason = "accounts_changed"
	ReasonChainChanged    Reason = "chain_changed"
	ReasonBalance         Reason = "balance"
)

// StateChange is published on every committed transition.
type StateChange struct {
	State  model.WalletState
	Reason Reason
}

type Options struct {
	// ExpectedKind is the only wallet kind accepted. Defaults to DefaultKind.
	ExpectedKind string
	Networks     map[uint64]Network
	Logger       *zap.Logger
}

// Session owns the wallet state. Mutating provider operations (connect,
// switch, send) run one at a time; Disconnect never waits for them. Every
// transition bumps a generation counter and results computed under an older
// generation are discarded.
type Session struct {
	provider     Provider
	expectedKind string
	networks     map[uint64]Network
	logger       *zap.Logger

	opMu sync.Mutex

	mu    sync.RWMutex
	state model.WalletState
	gen   uint64

	feed event.Feed

	metaMu    sync.Mutex
	tokenMeta map[uint64]*erc20.TokenMetaCache

	events    chan Event
	sub       event.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSession creates a session over provider. A nil provider is allowed and
// makes every operation fail with ErrNoProviderInstalled.
func NewSession(provider Provider, opts Options) *Session {
	kind := opts.ExpectedKind
	if kind == "" {
		kind = DefaultKind
	}
	networks := opts.Networks
	if networks == nil {
		networks = DefaultNetworks
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		provider:     provider,
		expectedKind: kind,
		networks:     networks,
		logger:       logger,
		state:        model.WalletState{Status: model.StatusDisconnected},
		tokenMeta:    make(map[uint64]*erc20.TokenMetaCache),
		ctx:          ctx,
		cancel:       cancel,
	}
	if provider != nil {
		s.events = make(chan Event, 16)
		s.sub = provider.SubscribeEvents(s.events)
		s.wg.Add(1)
		go s.loop()
	}
	return s
}

// Close releases the provider event subscription.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
		s.wg.Wait()
	})
}

// State returns a snapshot of the current state.
func (s *Session) State() model.WalletState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SubscribeState delivers every committed StateChange to ch. Slow readers
// block the publisher, so ch should be buffered.
func (s *Session) SubscribeState(ch chan<- StateChange) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Connect requests account access and loads chain and balance. Calls made
// while another connect is in flight wait for it and return its result.
func (s *Session) Connect(ctx context.Context) (model.WalletState, error) {
	if err := s.checkProvider(); err != nil {
		s.fail(s.bump(), err)
		return s.State(), err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if cur := s.State(); cur.Connected() {
		return cur, nil
	}

	gen := s.transition(model.WalletState{Status: model.StatusConnecting}, ReasonConnecting)
	accounts, err := s.accounts(ctx, "eth_requestAccounts")
	if err == nil && len(accounts) == 0 {
		err = ErrNoAccounts
	}
	if err != nil {
		err = classify(nil, fmt.Errorf("request accounts: %w", err))
		s.fail(gen, err)
		return s.State(), err
	}
	return s.finishConnect(ctx, gen, accounts[0], ReasonConnected)
}

// Restore reconnects silently when the wallet has already authorized an
// account. It never prompts and reports no error when nothing is authorized.
func (s *Session) Restore(ctx context.Context) (model.WalletState, error) {
	if s.checkProvider() != nil {
		return s.State(), nil
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if cur := s.State(); cur.Connected() {
		return cur, nil
	}

	accounts, err := s.accounts(ctx, "eth_accounts")
	if err != nil {
		s.logger.Debug("restore wallet session failed", zap.Error(err))
		return s.State(), nil
	}
	if len(accounts) == 0 {
		return s.State(), nil
	}

	gen := s.transition(model.WalletState{Status: model.StatusConnecting}, ReasonConnecting)
	return s.finishConnect(ctx, gen, accounts[0], ReasonConnected)
}

// Disconnect clears the session. It is idempotent and invalidates any
// operation still in flight.
func (s *Session) Disconnect() {
	s.transition(model.WalletState{Status: model.StatusDisconnected}, ReasonDisconnected)
}

// SwitchNetwork asks the wallet to switch to chainID, registering the chain
// first if the wallet does not know it.
func (s *Session) SwitchNetwork(ctx context.Context, chainID uint64) error {
	if err := s.checkProvider(); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	param := map[string]string{"chainId": hexutil.EncodeUint64(chainID)}
	_, err := s.provider.Request(ctx, "wallet_switchEthereumChain", param)
	if err != nil {
		code, _ := ErrorCode(err)
		if code != CodeUnrecognizedChain {
			return classify(ErrNetworkSwitch, err)
		}

		network, ok := s.networks[chainID]
		if !ok || network.Builtin {
			return fmt.Errorf("%w: chain %d is not registered", ErrNetworkSwitch, chainID)
		}
		s.logger.Info("adding chain to wallet", zap.Uint64("chain_id", chainID), zap.String("name", network.Name))
		if _, err := s.provider.Request(ctx, "wallet_addEthereumChain", network.addParams()); err != nil {
			return classify(ErrNetworkSwitch, fmt.Errorf("add chain: %w", err))
		}
		if _, err := s.provider.Request(ctx, "wallet_switchEthereumChain", param); err != nil {
			return classify(ErrNetworkSwitch, err)
		}
	}

	s.applyChain(ctx, chainID)
	return nil
}

// TokenBalance returns the connected account's balance of token for display.
func (s *Session) TokenBalance(ctx context.Context, token string) (string, error) {
	cur := s.State()
	if !cur.Connected() {
		return "", ErrNotConnected
	}
	if !common.IsHexAddress(token) {
		return "", fmt.Errorf("%w: invalid token address %q", ErrCall, token)
	}
	tokenAddr := common.HexToAddress(token)
	owner := common.HexToAddress(cur.Address)

	balance, err := erc20.BalanceOf(ctx, s, tokenAddr, owner)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCall, err)
	}
	meta, err := s.metaCache(cur.ChainID).Lookup(ctx, s, tokenAddr, s.logger)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCall, err)
	}
	return amount.FormatUnits(balance, meta.Decimals), nil
}

// metaCache returns the token metadata cache for chainID.
func (s *Session) metaCache(chainID uint64) *erc20.TokenMetaCache {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	cache, ok := s.tokenMeta[chainID]
	if !ok {
		cache = erc20.NewTokenMetaCache()
		s.tokenMeta[chainID] = cache
	}
	return cache
}

// RefreshBalance reloads the native balance. Failures are logged and the
// previous balance is kept.
func (s *Session) RefreshBalance(ctx context.Context) {
	s.mu.RLock()
	cur, gen := s.state, s.gen
	s.mu.RUnlock()
	if !cur.Connected() || s.provider == nil {
		return
	}

	balance, err := s.nativeBalance(ctx, cur.Address)
	if err != nil {
		s.logger.Warn("refresh balance failed", zap.String("address", cur.Address), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state.BalanceNative = balance
	next := s.state
	s.mu.Unlock()

	s.feed.Send(StateChange{State: next, Reason: ReasonBalance})
}

// CallContract runs eth_call through the wallet provider.
func (s *Session) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := s.checkProvider(); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, fmt.Errorf("call target is nil")
	}
	call := map[string]string{
		"to":   msg.To.Hex(),
		"data": hexutil.Encode(msg.Data),
	}
	if msg.From != (common.Address{}) {
		call["from"] = msg.From.Hex()
	}
	block := "latest"
	if blockNumber != nil {
		block = hexutil.EncodeBig(blockNumber)
	}

	raw, err := s.provider.Request(ctx, "eth_call", call, block)
	if err != nil {
		return nil, err
	}
	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return out, nil
}

// SendTransaction asks the wallet to sign and broadcast tx and returns the
// transaction hash. The sender must be the connected account.
func (s *Session) SendTransaction(ctx context.Context, tx model.TxRequest) (string, error) {
	if err := s.checkProvider(); err != nil {
		return "", err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur := s.State()
	if !cur.Connected() {
		return "", ErrNotConnected
	}
	if tx.From == "" {
		tx.From = cur.Address
	}
	if !strings.EqualFold(tx.From, cur.Address) {
		return "", fmt.Errorf("%w: sender %s is not the connected account", ErrStateChanged, tx.From)
	}
	if tx.ChainID != 0 && tx.ChainID != cur.ChainID {
		return "", fmt.Errorf("%w: transaction for chain %d, wallet on chain %d", ErrStateChanged, tx.ChainID, cur.ChainID)
	}

	params, err := txParams(tx)
	if err != nil {
		return "", err
	}
	raw, err := s.provider.Request(ctx, "eth_sendTransaction", params)
	if err != nil {
		return "", classify(nil, fmt.Errorf("send transaction: %w", err))
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("decode transaction hash: %w", err)
	}
	return hash, nil
}

type rpcReceipt struct {
	TransactionHash string          `json:"transactionHash"`
	Status          *hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
	GasUsed         *hexutil.Uint64 `json:"gasUsed"`
}

// TransactionReceipt returns the receipt for hash, or nil while pending.
func (s *Session) TransactionReceipt(ctx context.Context, hash string) (*model.Receipt, error) {
	if err := s.checkProvider(); err != nil {
		return nil, err
	}
	raw, err := s.provider.Request(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	out := &model.Receipt{TxHash: r.TransactionHash}
	if r.Status != nil {
		out.Status = uint64(*r.Status)
	}
	if r.BlockNumber != nil {
		out.BlockNumber = uint64(*r.BlockNumber)
	}
	if r.GasUsed != nil {
		out.GasUsed = uint64(*r.GasUsed)
	}
	return out, nil
}

func (s *Session) checkProvider() error {
	if s.provider == nil {
		return ErrNoProviderInstalled
	}
	if !strings.EqualFold(s.provider.Kind(), s.expectedKind) {
		return fmt.Errorf("%w: %q, expected %q", ErrUnsupportedWallet, s.provider.Kind(), s.expectedKind)
	}
	return nil
}

// finishConnect loads chain and balance for address and commits the result
// if gen is still current.
func (s *Session) finishConnect(ctx context.Context, gen uint64, address string, reason Reason) (model.WalletState, error) {
	next, err := s.load(ctx, address)
	if err != nil {
		err = classify(nil, err)
		s.fail(gen, err)
		return s.State(), err
	}

	if !s.commit(gen, next, reason) {
		return s.State(), ErrStateChanged
	}
	s.logger.Info("wallet connected", zap.String("address", next.Address), zap.Uint64("chain_id", next.ChainID))
	return next, nil
}

func (s *Session) load(ctx context.Context, address string) (model.WalletState, error) {
	chainID, err := s.chainID(ctx)
	if err != nil {
		return model.WalletState{}, fmt.Errorf("read chain id: %w", err)
	}
	balance, err := s.nativeBalance(ctx, address)
	if err != nil {
		return model.WalletState{}, fmt.Errorf("read balance: %w", err)
	}
	return model.WalletState{
		Address:       address,
		ChainID:       chainID,
		BalanceNative: balance,
		Status:        model.StatusConnected,
	}, nil
}

func (s *Session) accounts(ctx context.Context, method string) ([]string, error) {
	raw, err := s.provider.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if isNull(raw) {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	for i, account := range accounts {
		if !common.IsHexAddress(account) {
			return nil, fmt.Errorf("invalid account %q", account)
		}
		accounts[i] = common.HexToAddress(account).Hex()
	}
	return accounts, nil
}

func (s *Session) chainID(ctx context.Context) (uint64, error) {
	raw, err := s.provider.Request(ctx, "eth_chainId")
	if err != nil {
		return 0, err
	}
	var id hexutil.Uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("decode chain id: %w", err)
	}
	return uint64(id), nil
}

func (s *Session) nativeBalance(ctx context.Context, address string) (string, error) {
	raw, err := s.provider.Request(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return "", err
	}
	var balance hexutil.Big
	if err := json.Unmarshal(raw, &balance); err != nil {
		return "", fmt.Errorf("decode balance: %w", err)
	}
	return amount.FormatUnits(balance.ToInt(), 18), nil
}

// transition unconditionally replaces the state and returns the new generation.
func (s *Session) transition(next model.WalletState, reason Reason) uint64 {
	s.mu.Lock()
	s.gen++
	s.state = next
	gen := s.gen
	s.mu.Unlock()

	s.feed.Send(StateChange{State: next, Reason: reason})
	return gen
}

// commit replaces the state only if no transition happened since gen.
func (s *Session) commit(gen uint64, next model.WalletState, reason Reason) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.gen++
	s.state = next
	s.mu.Unlock()

	s.feed.Send(StateChange{State: next, Reason: reason})
	return true
}

func (s *Session) bump() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *Session) fail(gen uint64, err error) {
	if s.commit(gen, model.WalletState{Status: model.StatusError, Error: err.Error()}, ReasonError) {
		s.logger.Warn("wallet connect failed", zap.Error(err))
	}
}

// applyChain resets chain-bound state and reloads the balance.
func (s *Session) applyChain(ctx context.Context, chainID uint64) {
	s.mu.Lock()
	if !s.state.Connected() || s.state.ChainID == chainID {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state.ChainID = chainID
	s.state.BalanceNative = ""
	next := s.state
	s.mu.Unlock()

	s.logger.Info("wallet chain changed", zap.Uint64("chain_id", chainID))
	s.feed.Send(StateChange{State: next, Reason: ReasonChainChanged})
	s.RefreshBalance(ctx)
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case err := <-s.sub.Err():
			if err != nil {
				s.logger.Warn("wallet event subscription ended", zap.Error(err))
			}
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleEvent(ev Event) {
	cur := s.State()
	if !cur.Connected() {
		s.logger.Debug("wallet event ignored", zap.String("event", string(ev.Name)), zap.String("status", string(cur.Status)))
		return
	}

	switch ev.Name {
	case EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.logger.Info("wallet accounts revoked")
			s.Disconnect()
			return
		}
		if strings.EqualFold(ev.Accounts[0], cur.Address) {
			return
		}
		s.reconnect(ev.Accounts[0])
	case EventChainChanged:
		s.applyChain(s.ctx, ev.ChainID)
	}
}

// reconnect reloads the session for a new active account.
func (s *Session) reconnect(account string) {
	if !common.IsHexAddress(account) {
		s.logger.Warn("wallet reported invalid account", zap.String("account", account))
		return
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	gen := s.transition(model.WalletState{Status: model.StatusConnecting}, ReasonAccountsChanged)
	if _, err := s.finishConnect(s.ctx, gen, common.HexToAddress(account).Hex(), ReasonAccountsChanged); err != nil {
		s.logger.Warn("wallet reconnect failed", zap.Error(err))
	}
}

func txParams(tx model.TxRequest) (map[string]string, error) {
	if !common.IsHexAddress(tx.To) {
		return nil, fmt.Errorf("invalid transaction target %q", tx.To)
	}
	params := map[string]string{
		"from": tx.From,
		"to":   common.HexToAddress(tx.To).Hex(),
		"data": tx.Data,
	}
	if params["data"] == "" {
		params["data"] = "0x"
	}
	if tx.Value != "" {
		v, err := amount.ParseBaseUnits(tx.Value)
		if err != nil {
			return nil, fmt.Errorf("parse transaction value: %w", err)
		}
		params["value"] = hexutil.EncodeBig(v)
	}
	if tx.ChainID != 0 {
		params["chainId"] = hexutil.EncodeUint64(tx.ChainID)
	}
	if tx.Gas > 0 {
		params["gas"] = hexutil.EncodeUint64(tx.Gas)
	}
	if tx.GasPrice != "" {
		v, err := amount.ParseBaseUnits(tx.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("parse gas price: %w", err)
		}
		params["gasPrice"] = hexutil.EncodeBig(v)
	}
	return params, nil
}
