// Package risk classifies yield pools into coarse risk bands.
package risk

import "github.com/msbkrkyn/defi-yield-tracker/internal/model"

const (
	maxScore = 10
	minScore = 0
)

// Score derives a risk score from pool attributes. It is total and pure.
//
// APY above 100/50/20 adds 3/2/1, TVL below 1M/10M adds 2/1, a 7-day
// impermanent loss above 5/2 adds 2/1 (or 1 for a bare IL flag) and
// stablecoin pools subtract 1. The sum is clamped to [0, 10].
func Score(p model.Pool) model.RiskScore {
	score := 0

	switch {
	case p.APY > 100:
		score += 3
	case p.APY > 50:
		score += 2
	case p.APY > 20:
		score += 1
	}

	switch {
	case p.TVLUSD < 1_000_000:
		score += 2
	case p.TVLUSD < 10_000_000:
		score += 1
	}

	switch {
	case p.IL7d != nil && *p.IL7d > 5:
		score += 2
	case p.IL7d != nil && *p.IL7d > 2:
		score += 1
	case p.IL7d == nil && p.HasILRisk():
		score += 1
	}

	if p.Stablecoin {
		score--
	}

	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}

	return model.RiskScore{Score: score, Level: Level(score)}
}

// Level maps a clamped score to its band.
func Level(score int) model.RiskLevel {
	switch {
	case score <= 2:
		return model.RiskLow
	case score <= 4:
		return model.RiskMedium
	case score <= 6:
		return model.RiskHigh
	default:
		return model.RiskVeryHigh
	}
}
