package model

import "time"

// Protocol is a DeFi protocol summary from the protocol TVL API.
type Protocol struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Slug      string             `json:"slug"`
	Symbol    string             `json:"symbol,omitempty"`
	Category  string             `json:"category,omitempty"`
	Chains    []string           `json:"chains,omitempty"`
	TVLUSD    float64            `json:"tvl_usd"`
	ChainTVLs map[string]float64 `json:"chain_tvls,omitempty"`
	Change1d  *float64           `json:"change_1d,omitempty"`
	Change7d  *float64           `json:"change_7d,omitempty"`
	URL       string             `json:"url,omitempty"`
}

// TVLPoint is one daily TVL sample.
type TVLPoint struct {
	Date   time.Time `json:"date"`
	TVLUSD float64   `json:"tvl_usd"`
}

// ProtocolTVL is the TVL breakdown and history of one protocol.
type ProtocolTVL struct {
	Name    string             `json:"name"`
	Slug    string             `json:"slug"`
	Current map[string]float64 `json:"current"`
	History []TVLPoint         `json:"history"`
}

// Latest returns the most recent history sample.
func (p ProtocolTVL) Latest() (TVLPoint, bool) {
	if len(p.History) == 0 {
		return TVLPoint{}, false
	}
	return p.History[len(p.History)-1], true
}
