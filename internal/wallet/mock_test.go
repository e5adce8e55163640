package wallet

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
)

const (
	testAccount  = "0x00000000000000000000000000000000000000A1"
	otherAccount = "0x00000000000000000000000000000000000000B2"
)

type handler func(params []interface{}) (interface{}, error)

// mockProvider is an in-process EIP-1193 provider with scripted handlers.
type mockProvider struct {
	kind string
	feed event.Feed

	mu       sync.Mutex
	calls    []string
	handlers map[string]handler
}

func newMockProvider() *mockProvider {
	m := &mockProvider{kind: "metamask", handlers: map[string]handler{}}
	m.on("eth_requestAccounts", returns([]string{testAccount}))
	m.on("eth_accounts", returns([]string{testAccount}))
	m.on("eth_chainId", returns("0x1"))
	m.on("eth_getBalance", returns("0x14d1120d7b160000"))
	return m
}

func returns(v interface{}) handler {
	return func([]interface{}) (interface{}, error) { return v, nil }
}

func fails(code int) handler {
	return func([]interface{}) (interface{}, error) {
		return nil, &ProviderError{Code: code, Message: "mock failure"}
	}
}

func (m *mockProvider) on(method string, h handler) {
	m.mu.Lock()
	m.handlers[method] = h
	m.mu.Unlock()
}

func (m *mockProvider) Request(_ context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	h := m.handlers[method]
	m.mu.Unlock()

	if h == nil {
		return nil, &ProviderError{Code: -32601, Message: "method not found: " + method}
	}
	v, err := h(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (m *mockProvider) SubscribeEvents(ch chan<- Event) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *mockProvider) Kind() string { return m.kind }

func (m *mockProvider) emit(ev Event) { m.feed.Send(ev) }

func (m *mockProvider) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockProvider) count(method string) int {
	n := 0
	for _, c := range m.callLog() {
		if c == method {
			n++
		}
	}
	return n
}

func word(v int64) string {
	return hexutil.Encode(common.LeftPadBytes(big.NewInt(v).Bytes(), 32))
}
