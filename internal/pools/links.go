package pools

import (
	"net/url"
	"strings"
)

var protocolLinks = map[string]string{
	"aave-v2":            "https://app.aave.com",
	"aave-v3":            "https://app.aave.com",
	"compound-v2":        "https://app.compound.finance",
	"compound-v3":        "https://app.compound.finance",
	"curve-dex":          "https://curve.fi",
	"convex-finance":     "https://www.convexfinance.com",
	"lido":               "https://stake.lido.fi",
	"rocket-pool":        "https://stake.rocketpool.net",
	"uniswap-v2":         "https://app.uniswap.org",
	"uniswap-v3":         "https://app.uniswap.org",
	"sushiswap":          "https://www.sushi.com",
	"balancer-v2":        "https://app.balancer.fi",
	"yearn-finance":      "https://yearn.fi",
	"pancakeswap-amm":    "https://pancakeswap.finance",
	"pancakeswap-amm-v3": "https://pancakeswap.finance",
	"gmx-v2-perps":       "https://app.gmx.io",
	"morpho-blue":        "https://app.morpho.org",
	"pendle":             "https://app.pendle.finance",
	"ethena-usde":        "https://app.ethena.fi",
	"makerdao":           "https://app.spark.fi",
	"spark":              "https://app.spark.fi",
	"velodrome-v2":       "https://velodrome.finance",
	"aerodrome-v1":       "https://aerodrome.finance",
	"stargate":           "https://stargate.finance",
	"beefy":              "https://app.beefy.com",
}

// ProtocolURL returns the app URL for a project, falling back to its
// DefiLlama protocol page.
func ProtocolURL(project string) string {
	key := strings.ToLower(strings.TrimSpace(project))
	if link, ok := protocolLinks[key]; ok {
		return link
	}
	return "https://defillama.com/protocol/" + url.PathEscape(key)
}
