package wallet

import "github.com/ethereum/go-ethereum/common/hexutil"

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Network is the metadata a wallet needs to register an unknown chain.
type Network struct {
	ChainID   uint64
	Name      string
	Currency  NativeCurrency
	RPCURLs   []string
	Explorers []string
	// Builtin chains ship with every wallet and are never added.
	Builtin bool
}

type addChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`
}

func (n Network) addParams() addChainParams {
	return addChainParams{
		ChainID:           hexutil.EncodeUint64(n.ChainID),
		ChainName:         n.Name,
		NativeCurrency:    n.Currency,
		RPCURLs:           n.RPCURLs,
		BlockExplorerURLs: n.Explorers,
	}
}

var ether = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}

// DefaultNetworks covers the chains the aggregator supports.
var DefaultNetworks = map[uint64]Network{
	1: {
		ChainID:   1,
		Name:      "Ethereum Mainnet",
		Currency:  ether,
		Explorers: []string{"https://etherscan.io/"},
		Builtin:   true,
	},
	10: {
		ChainID:   10,
		Name:      "Optimism",
		Currency:  ether,
		RPCURLs:   []string{"https://mainnet.optimism.io/"},
		Explorers: []string{"https://optimistic.etherscan.io/"},
	},
	56: {
		ChainID:   56,
		Name:      "BNB Smart Chain",
		Currency:  NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
		RPCURLs:   []string{"https://bsc-dataseed.binance.org/"},
		Explorers: []string{"https://bscscan.com/"},
	},
	137: {
		ChainID:   137,
		Name:      "Polygon Mainnet",
		Currency:  NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
		RPCURLs:   []string{"https://polygon-rpc.com/"},
		Explorers: []string{"https://polygonscan.com/"},
	},
	42161: {
		ChainID:   42161,
		Name:      "Arbitrum One",
		Currency:  ether,
		RPCURLs:   []string{"https://arb1.arbitrum.io/rpc"},
		Explorers: []string{"https://arbiscan.io/"},
	},
}

// NetworkName returns a display name for chainID.
func NetworkName(chainID uint64) string {
	if n, ok := DefaultNetworks[chainID]; ok {
		return n.Name
	}
	return "Chain " + hexutil.EncodeUint64(chainID)
}

// WithRPCURLs returns a copy of DefaultNetworks where each chain in urls is
// offered that RPC endpoint. Unknown chains get an ether-denominated entry.
func WithRPCURLs(urls map[uint64]string) map[uint64]Network {
	out := make(map[uint64]Network, len(DefaultNetworks)+len(urls))
	for id, n := range DefaultNetworks {
		out[id] = n
	}
	for id, url := range urls {
		n, ok := out[id]
		if !ok {
			n = Network{ChainID: id, Name: NetworkName(id), Currency: ether}
		}
		n.RPCURLs = []string{url}
		out[id] = n
	}
	return out
}
