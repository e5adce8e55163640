package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/msbkrkyn/defi-yield-tracker/internal/amount"
	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

// Client wraps a plain node RPC endpoint. It is an optional source of
// receipts and reads when the wallet provider should not be used for them.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewFromRPC(rpcClient), nil
}

// NewFromRPC wraps an existing RPC client.
func NewFromRPC(rpcClient *rpc.Client) *Client {
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID as reported by the node.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// BalanceAt returns the native balance of account at the latest block.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.ethClient.BalanceAt(ctx, account, nil)
}

// NativeBalance returns the display balance of address in the chain's
// native currency.
func (c *Client) NativeBalance(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	balance, err := c.BalanceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return "", fmt.Errorf("get balance: %w", err)
	}
	return amount.FormatUnits(balance, 18), nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// TransactionReceipt returns the receipt for hash, or nil while the
// transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*model.Receipt, error) {
	if !isHash(hash) {
		return nil, fmt.Errorf("invalid tx hash %q", hash)
	}
	receipt, err := c.ethClient.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return FromTypes(receipt), nil
}

// FromTypes converts a go-ethereum receipt to the tracker model.
func FromTypes(r *types.Receipt) *model.Receipt {
	if r == nil {
		return nil
	}
	out := &model.Receipt{
		TxHash:  r.TxHash.Hex(),
		Status:  r.Status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

func isHash(value string) bool {
	if len(value) != 2+2*common.HashLength {
		return false
	}
	_, err := hexutil.Decode(value)
	return err == nil
}
