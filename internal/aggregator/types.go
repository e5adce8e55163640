package aggregator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

// QuoteParams is the input of a quote request. Amount is in base units.
type QuoteParams struct {
	ChainID   uint64
	FromToken string
	ToToken   string
	Amount    string
}

// SwapParams extends QuoteParams with the sender and slippage percent.
type SwapParams struct {
	QuoteParams
	FromAddress string
	Slippage    float64
}

type tokensResponse struct {
	Tokens map[string]model.Token `json:"tokens"`
}

type spenderResponse struct {
	Address string `json:"address"`
}

// QuoteResponse is the aggregator's quote body.
type QuoteResponse struct {
	FromToken       model.Token     `json:"fromToken"`
	ToToken         model.Token     `json:"toToken"`
	FromTokenAmount string          `json:"fromTokenAmount"`
	ToTokenAmount   string          `json:"toTokenAmount"`
	Protocols       json.RawMessage `json:"protocols"`
	EstimatedGas    Uint            `json:"estimatedGas"`
}

// SwapResponse is the aggregator's swap body including call data.
type SwapResponse struct {
	FromToken       model.Token     `json:"fromToken"`
	ToToken         model.Token     `json:"toToken"`
	FromTokenAmount string          `json:"fromTokenAmount"`
	ToTokenAmount   string          `json:"toTokenAmount"`
	Protocols       json.RawMessage `json:"protocols"`
	Tx              SwapTx          `json:"tx"`
}

type SwapTx struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      Uint   `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

// Request converts the aggregator call data into a wallet transaction.
func (tx SwapTx) Request() model.TxRequest {
	return model.TxRequest{
		From:     tx.From,
		To:       tx.To,
		Data:     tx.Data,
		Value:    tx.Value,
		Gas:      uint64(tx.Gas),
		GasPrice: tx.GasPrice,
	}
}

// Uint decodes a JSON number, a decimal string or a 0x-prefixed hex string.
type Uint uint64

func (u *Uint) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*u = 0
		return nil
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err = strconv.ParseUint(raw[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(raw, 10, 64)
	}
	if err != nil {
		return fmt.Errorf("decode uint %s: %w", raw, err)
	}
	*u = Uint(v)
	return nil
}

// ProtocolNames flattens the nested route description into unique names
// in first-seen order.
func ProtocolNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	var walk func(node interface{})
	walk = func(node interface{}) {
		switch v := node.(type) {
		case []interface{}:
			for _, item := range v {
				walk(item)
			}
		case map[string]interface{}:
			if name, ok := v["name"].(string); ok && name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	walk(tree)
	return names
}
