package model

// Pool is a normalized yield pool snapshot from the yield API.
type Pool struct {
	PoolID     string   `json:"pool_id"`
	Chain      string   `json:"chain"`
	Project    string   `json:"project"`
	Symbol     string   `json:"symbol"`
	TVLUSD     float64  `json:"tvl_usd"`
	APY        float64  `json:"apy"`
	APYBase    *float64 `json:"apy_base,omitempty"`
	APYReward  *float64 `json:"apy_reward,omitempty"`
	APYMean30d *float64 `json:"apy_mean_30d,omitempty"`
	Stablecoin bool     `json:"stablecoin"`
	ILRisk     *bool    `json:"il_risk,omitempty"`
	IL7d       *float64 `json:"il_7d,omitempty"`
	Exposure   string   `json:"exposure,omitempty"`
	// Outlier is set by the source for pools whose yield is statistically
	// anomalous.
	Outlier bool `json:"outlier,omitempty"`
}

// HasILRisk reports whether the source flagged impermanent loss exposure.
func (p Pool) HasILRisk() bool {
	return p.ILRisk != nil && *p.ILRisk
}
