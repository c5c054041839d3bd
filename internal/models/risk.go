package models

// RiskLevel classifies how dangerous a proposed action is. Levels are
// totally ordered: Low < Medium < High < Critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of the level. Unknown levels rank
// below Low so a malformed config value never auto-approves anything
// it should not.
func (r RiskLevel) Rank() int {
	if rank, ok := riskRank[r]; ok {
		return rank
	}
	return -1
}

// AtMost reports whether r is at or below the given threshold.
func (r RiskLevel) AtMost(threshold RiskLevel) bool {
	return r.Rank() <= threshold.Rank()
}

// ParseRiskLevel maps a config string to a RiskLevel, defaulting to Low.
func ParseRiskLevel(value string) RiskLevel {
	switch RiskLevel(value) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(value)
	default:
		return RiskLow
	}
}

// RiskAssessment is the deterministic classification attached to a
// preview. It is derived once from the predicted changes and the
// command name, and never mutated afterwards.
type RiskAssessment struct {
	Level            RiskLevel `json:"level"`
	Factors          []string  `json:"factors"`
	Reversible       bool      `json:"reversible"`
	RollbackPossible bool      `json:"rollback_possible"`
	EstimatedImpact  string    `json:"estimated_impact"`
	AffectedObjects  int       `json:"affected_objects"`
}
