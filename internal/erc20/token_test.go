package erc20

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type fakeCaller struct {
	parsed  abi.ABI
	results map[string][]interface{}
	raw     map[string][]byte
	calls   []string
}

func newFakeCaller(t *testing.T) *fakeCaller {
	parsed, err := ABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &fakeCaller{parsed: parsed, results: map[string][]interface{}{}, raw: map[string][]byte{}}
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := f.parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, method.Name)
	if raw, ok := f.raw[method.Name]; ok {
		return raw, nil
	}
	values, ok := f.results[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(values...)
}

func TestPackApproveSelector(t *testing.T) {
	data, err := PackApprove(common.HexToAddress("0x1111111111111111111111111111111111111111"), big.NewInt(5))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	if got := hex.EncodeToString(data[:4]); got != "095ea7b3" {
		t.Fatalf("approve selector = %s", got)
	}
	if len(data) != 4+64 {
		t.Fatalf("approve calldata length = %d", len(data))
	}
}

func TestBalanceAndAllowance(t *testing.T) {
	caller := newFakeCaller(t)
	caller.results["balanceOf"] = []interface{}{big.NewInt(1500000)}
	caller.results["allowance"] = []interface{}{big.NewInt(7)}

	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")

	bal, err := BalanceOf(context.Background(), caller, token, owner)
	if err != nil || bal.Cmp(big.NewInt(1500000)) != 0 {
		t.Fatalf("balanceOf = %v, %v", bal, err)
	}
	allowance, err := Allowance(context.Background(), caller, token, owner, owner)
	if err != nil || allowance.Int64() != 7 {
		t.Fatalf("allowance = %v, %v", allowance, err)
	}
}

func TestFetchTokenMetaBytes32Fallback(t *testing.T) {
	caller := newFakeCaller(t)
	caller.results["decimals"] = []interface{}{uint8(18)}
	var sym [32]byte
	copy(sym[:], "MKR")
	caller.raw["symbol"] = sym[:]

	meta, err := FetchTokenMeta(context.Background(), caller, common.HexToAddress("0x4444444444444444444444444444444444444444"), nil)
	if err != nil {
		t.Fatalf("fetch meta: %v", err)
	}
	if meta.Decimals != 18 || meta.Symbol != "MKR" || meta.Name != "" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestTokenMetaCacheLookup(t *testing.T) {
	caller := newFakeCaller(t)
	caller.results["decimals"] = []interface{}{uint8(6)}
	caller.results["symbol"] = []interface{}{"USDC"}
	caller.results["name"] = []interface{}{"USD Coin"}

	cache := NewTokenMetaCache()
	token := common.HexToAddress("0x5555555555555555555555555555555555555555")
	for i := 0; i < 2; i++ {
		meta, err := cache.Lookup(context.Background(), caller, token, nil)
		if err != nil || meta.Symbol != "USDC" {
			t.Fatalf("lookup = %+v, %v", meta, err)
		}
	}
	if len(caller.calls) != 3 {
		t.Fatalf("expected one fetch of 3 calls, got %v", caller.calls)
	}
}

func TestIsNative(t *testing.T) {
	if !IsNative("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee") {
		t.Fatalf("lower-case native placeholder not recognised")
	}
	if IsNative("0x2222222222222222222222222222222222222222") {
		t.Fatalf("erc20 treated as native")
	}
}
