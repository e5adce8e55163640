package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestWalletStateConnected(t *testing.T) {
	cases := []struct {
		name  string
		state WalletState
		want  bool
	}{
		{"connected", WalletState{Address: "0x1111111111111111111111111111111111111111", ChainID: 1, Status: StatusConnected}, true},
		{"missing address", WalletState{ChainID: 1, Status: StatusConnected}, false},
		{"missing chain", WalletState{Address: "0x1111111111111111111111111111111111111111", Status: StatusConnected}, false},
		{"connecting", WalletState{Address: "0x1111111111111111111111111111111111111111", ChainID: 1, Status: StatusConnecting}, false},
		{"zero value", WalletState{}, false},
	}
	for _, tc := range cases {
		if got := tc.state.Connected(); got != tc.want {
			t.Fatalf("%s: Connected() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSwapTransactionSettled(t *testing.T) {
	for status, want := range map[TxStatus]bool{TxPending: false, TxConfirmed: true, TxFailed: true} {
		if got := (SwapTransaction{Status: status}).Settled(); got != want {
			t.Fatalf("Settled() for %s = %v, want %v", status, got, want)
		}
	}
}

func TestReceiptSucceeded(t *testing.T) {
	if !(Receipt{Status: 1}).Succeeded() {
		t.Fatalf("status 1 should succeed")
	}
	if (Receipt{Status: 0}).Succeeded() {
		t.Fatalf("status 0 should fail")
	}
}

func TestPoolILRisk(t *testing.T) {
	yes := true
	no := false
	if (Pool{}).HasILRisk() {
		t.Fatalf("unknown IL risk should be false")
	}
	if !(Pool{ILRisk: &yes}).HasILRisk() {
		t.Fatalf("expected IL risk")
	}
	if (Pool{ILRisk: &no}).HasILRisk() {
		t.Fatalf("expected no IL risk")
	}
}

func TestTokenLogoURIKey(t *testing.T) {
	b, err := json.Marshal(Token{Address: "0xa0b8", Symbol: "USDC", Decimals: 6, LogoURI: "https://x/usdc.png"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(b), `"logoURI":"https://x/usdc.png"`) {
		t.Fatalf("unexpected token json: %s", b)
	}
}
