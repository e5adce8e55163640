package model

// RiskLevel is the coarse risk band derived from a RiskScore.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskVeryHigh RiskLevel = "Very High"
)

// RiskScore is a derived classification of a pool, never stored.
type RiskScore struct {
	Score int       `json:"score"`
	Level RiskLevel `json:"level"`
}
