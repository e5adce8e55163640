package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newNode serves canned JSON-RPC results keyed by method.
func newNode(t *testing.T, results map[string]interface{}) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, ok := results[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial node: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestNodeReads(t *testing.T) {
	ctx := context.Background()
	client := newNode(t, map[string]interface{}{
		"eth_chainId":               "0x89",
		"eth_blockNumber":           "0x64",
		"eth_getBalance":            "0x14d1120d7b160000",
		"eth_getTransactionReceipt": nil,
	})

	chainID, err := client.ChainID(ctx)
	if err != nil || chainID != 137 {
		t.Fatalf("chain id = %d, %v", chainID, err)
	}
	head, err := client.LatestBlockNumber(ctx)
	if err != nil || head != 100 {
		t.Fatalf("latest block = %d, %v", head, err)
	}
	balance, err := client.NativeBalance(ctx, "0x00000000000000000000000000000000000000A1")
	if err != nil || balance != "1.500000" {
		t.Fatalf("balance = %q, %v", balance, err)
	}
	if _, err := client.NativeBalance(ctx, "not-an-address"); err == nil {
		t.Fatalf("invalid address accepted")
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash("0x01").Hex())
	if err != nil || receipt != nil {
		t.Fatalf("pending receipt = %+v, %v", receipt, err)
	}
}
