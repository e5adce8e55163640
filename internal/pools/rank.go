package pools

import (
	"sort"
	"strings"

	"github.com/msbkrkyn/defi-yield-tracker/internal/model"
)

const (
	DefaultAPYCeiling = 1000.0
	DefaultTVLFloor   = 100_000.0
)

// Rules is the admissibility rule applied to every ranked view. Pools at or
// above the APY ceiling are treated as outliers, as are pools the source
// flags as outliers.
type Rules struct {
	APYCeiling float64
	TVLFloor   float64
}

func (r Rules) withDefaults() Rules {
	if r.APYCeiling <= 0 {
		r.APYCeiling = DefaultAPYCeiling
	}
	if r.TVLFloor <= 0 {
		r.TVLFloor = DefaultTVLFloor
	}
	return r
}

// Admissible reports whether p passes the rule.
func (r Rules) Admissible(p model.Pool) bool {
	r = r.withDefaults()
	return !p.Outlier &&
		p.APY > 0 &&
		p.APY < r.APYCeiling &&
		p.TVLUSD > r.TVLFloor &&
		strings.TrimSpace(p.Project) != "" &&
		strings.TrimSpace(p.Symbol) != ""
}

// Rank sorts pools in place by descending APY, then descending TVL, then
// pool id so equal inputs always produce the same order.
func Rank(pools []model.Pool) {
	sort.SliceStable(pools, func(i, j int) bool {
		a, b := pools[i], pools[j]
		if a.APY != b.APY {
			return a.APY > b.APY
		}
		if a.TVLUSD != b.TVLUSD {
			return a.TVLUSD > b.TVLUSD
		}
		return a.PoolID < b.PoolID
	})
}

// Top filters pools through rules and keep, ranks them and returns at most n.
// n <= 0 returns every match. The input slice is not modified.
func Top(pools []model.Pool, rules Rules, n int, keep func(model.Pool) bool) []model.Pool {
	out := make([]model.Pool, 0, len(pools))
	for _, p := range pools {
		if !rules.Admissible(p) {
			continue
		}
		if keep != nil && !keep(p) {
			continue
		}
		out = append(out, p)
	}
	Rank(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Criteria narrows admissible pools further. Zero fields do not filter.
type Criteria struct {
	MinAPY         float64
	MaxAPY         float64
	MinTVL         float64
	MaxTVL         float64
	Chains         []string
	Projects       []string
	StablecoinOnly bool
	NoILRisk       bool
}

// Match reports whether p satisfies every set criterion. Chains match
// case-insensitively; projects match by substring.
func (c Criteria) Match(p model.Pool) bool {
	if c.MinAPY > 0 && p.APY < c.MinAPY {
		return false
	}
	if c.MaxAPY > 0 && p.APY > c.MaxAPY {
		return false
	}
	if c.MinTVL > 0 && p.TVLUSD < c.MinTVL {
		return false
	}
	if c.MaxTVL > 0 && p.TVLUSD > c.MaxTVL {
		return false
	}
	if c.StablecoinOnly && !p.Stablecoin {
		return false
	}
	if c.NoILRisk && p.HasILRisk() {
		return false
	}
	if len(c.Chains) > 0 && !containsFold(c.Chains, p.Chain) {
		return false
	}
	if len(c.Projects) > 0 {
		project := strings.ToLower(p.Project)
		found := false
		for _, want := range c.Projects {
			if want != "" && strings.Contains(project, strings.ToLower(want)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Filter returns pools matching criteria, preserving input order.
func Filter(pools []model.Pool, criteria Criteria) []model.Pool {
	out := make([]model.Pool, 0, len(pools))
	for _, p := range pools {
		if criteria.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// GroupByChain buckets pools by chain name.
func GroupByChain(pools []model.Pool) map[string][]model.Pool {
	out := make(map[string][]model.Pool)
	for _, p := range pools {
		out[p.Chain] = append(out[p.Chain], p)
	}
	return out
}

func containsFold(items []string, value string) bool {
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
