package model

// Quote is an aggregator price estimate bound to one input triple.
// Amounts are integer strings in base units; display fields are decimal.
type Quote struct {
	ChainID           uint64   `json:"chain_id"`
	FromToken         Token    `json:"from_token"`
	ToToken           Token    `json:"to_token"`
	FromAmount        string   `json:"from_amount"`
	FromAmountDisplay string   `json:"from_amount_display"`
	ToAmountEstimate  string   `json:"to_amount"`
	ToAmountDisplay   string   `json:"to_amount_display"`
	Protocols         []string `json:"protocols,omitempty"`
	EstimatedGas      uint64   `json:"estimated_gas"`
}

// TxRequest is call data for a transaction the wallet is asked to sign.
type TxRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      uint64 `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	// ChainID, when set, is the chain the call data was built for. The
	// wallet refuses to sign on any other chain.
	ChainID uint64 `json:"chainId,omitempty"`
}
