package sync

import "github.com/mafzaal/d365fo-client-go/internal/domain"

// minIncrementalOverlap is the module-id overlap ratio (against the
// prior completed version) at or above which an incremental sync is chosen
// over a full one.
const minIncrementalOverlap = 0.95

// strategyInputs is everything SelectStrategy needs, gathered by the
// orchestrator from globalversion.Manager before a session starts.
type strategyInputs struct {
	HasActiveVersion     bool
	SharingModeAvailable bool
	HasPriorCompleted    bool
	ModuleOverlapRatio   float64
}

// SelectStrategy implements the auto-strategy decision table: share an
// existing populated version when one already matches; prefer an
// incremental pass over a full one when the module sets are nearly
// identical; otherwise fetch the labelled-or-not full strategy.
func SelectStrategy(in strategyInputs) domain.SyncStrategy {
	if in.SharingModeAvailable {
		return domain.StrategySharingMode
	}
	if !in.HasActiveVersion {
		return domain.StrategyFullWithoutLabels
	}
	if in.HasPriorCompleted && in.ModuleOverlapRatio >= minIncrementalOverlap {
		return domain.StrategyIncremental
	}
	return domain.StrategyFull
}

// ModuleOverlapRatio returns the fraction of oldIDs also present in
// newIDs, used for the incremental-eligibility check. Returns 0 when
// oldIDs is empty.
func ModuleOverlapRatio(oldIDs, newIDs []string) float64 {
	if len(oldIDs) == 0 {
		return 0
	}
	newSet := make(map[string]struct{}, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = struct{}{}
	}
	shared := 0
	for _, id := range oldIDs {
		if _, ok := newSet[id]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(oldIDs))
}

// includesEntities reports whether strategy fetches the entity list
// (and properties/navigations).
func includesEntities(s domain.SyncStrategy) bool {
	switch s {
	case domain.StrategyFull, domain.StrategyFullWithoutLabels, domain.StrategyEntitiesOnly, domain.StrategyIncremental:
		return true
	default:
		return false
	}
}

func includesActionsAndEnums(s domain.SyncStrategy) bool {
	switch s {
	case domain.StrategyFull, domain.StrategyFullWithoutLabels, domain.StrategyIncremental:
		return true
	default:
		return false
	}
}

func includesLabels(s domain.SyncStrategy) bool {
	switch s {
	case domain.StrategyFull, domain.StrategyLabelsOnly:
		return true
	default:
		return false
	}
}
