package model

import "time"

// TxKind distinguishes approval transactions from swaps.
type TxKind string

const (
	TxApprove TxKind = "approve"
	TxSwap    TxKind = "swap"
)

// TxStatus is the on-chain outcome of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// SwapTransaction tracks a submitted transaction by hash.
type SwapTransaction struct {
	Hash        string    `json:"hash"`
	ChainID     uint64    `json:"chain_id"`
	Kind        TxKind    `json:"kind"`
	Status      TxStatus  `json:"status"`
	From        string    `json:"from"`
	FromToken   string    `json:"from_token,omitempty"`
	ToToken     string    `json:"to_token,omitempty"`
	FromAmount  string    `json:"from_amount,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	SettledAt   time.Time `json:"settled_at,omitempty"`
}

// Settled reports whether the transaction reached a terminal status.
func (t SwapTransaction) Settled() bool {
	return t.Status == TxConfirmed || t.Status == TxFailed
}

// Receipt is the subset of a transaction receipt used to classify outcome.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

// Succeeded reports whether the receipt status is 1.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}
