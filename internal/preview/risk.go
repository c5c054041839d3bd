package preview

import (
	"fmt"
	"strings"

	"github.com/k5tuck/Aegis-Engine-sub000/internal/models"
)

// defaultCriticalOperations are command-name fragments that force a
// critical, irreversible assessment no matter what the predicted
// changes look like.
var defaultCriticalOperations = []string{
	"delete_level",
	"clear_level",
	"delete_all",
	"remove_all",
	"reset_project",
	"wipe",
}

// AssessRisk scores a proposed action from its predicted changes and
// the command name. The classification is deterministic: the same
// inputs always produce the same assessment. Level floors only ever
// raise, never lower.
func AssessRisk(command string, changes []models.ChangePreview, criticalOps []string) models.RiskAssessment {
	level := models.RiskLow
	var factors []string

	raiseTo := func(floor models.RiskLevel) {
		if floor.Rank() > level.Rank() {
			level = floor
		}
	}

	deleteCount := 0
	affected := len(changes)
	dependencyImpacted := 0
	for _, change := range changes {
		if change.Type == models.ChangeDelete {
			deleteCount++
		}
		if len(change.Dependencies) > 0 {
			dependencyImpacted++
			affected += len(change.Dependencies)
		}
	}

	if deleteCount > 0 {
		factors = append(factors, fmt.Sprintf("%d object(s) will be deleted", deleteCount))
	}
	switch {
	case deleteCount > 10:
		raiseTo(models.RiskHigh)
	case deleteCount > 5:
		raiseTo(models.RiskMedium)
	}

	lower := strings.ToLower(command)
	if strings.Contains(lower, "blueprint") && strings.Contains(lower, "delete") {
		factors = append(factors, "blueprint deletion can break dependent actors")
		raiseTo(models.RiskMedium)
	}

	if affected > 20 {
		factors = append(factors, fmt.Sprintf("%d objects affected", affected))
		raiseTo(models.RiskMedium)
	}

	// Dependency impact is worth surfacing but never changes the level.
	if dependencyImpacted > 0 {
		factors = append(factors, fmt.Sprintf("%d change(s) impact dependent objects", dependencyImpacted))
	}

	reversible := true
	rollbackPossible := true
	if matchesAny(lower, criticalOps) {
		level = models.RiskCritical
		reversible = false
		rollbackPossible = false
		factors = append(factors, "command is a critical operation")
	}

	return models.RiskAssessment{
		Level:            level,
		Factors:          factors,
		Reversible:       reversible,
		RollbackPossible: rollbackPossible,
		EstimatedImpact:  fmt.Sprintf("%s: %d object(s) affected", level, affected),
		AffectedObjects:  affected,
	}
}

func matchesAny(command string, fragments []string) bool {
	for _, fragment := range fragments {
		if fragment != "" && strings.Contains(command, fragment) {
			return true
		}
	}
	return false
}
