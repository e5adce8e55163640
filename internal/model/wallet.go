package model

// ConnectionStatus is the wallet session lifecycle state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// WalletState is a snapshot of the wallet session. Address and ChainID are
// only meaningful while Status is connected.
type WalletState struct {
	Address       string           `json:"address,omitempty"`
	ChainID       uint64           `json:"chain_id,omitempty"`
	BalanceNative string           `json:"balance_native"`
	Status        ConnectionStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
}

// Connected reports whether the snapshot carries a usable account.
func (s WalletState) Connected() bool {
	return s.Status == StatusConnected && s.Address != "" && s.ChainID != 0
}
