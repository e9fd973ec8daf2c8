package domain

import "github.com/docflow/backend/internal/domain/models"

// EvaluateQuorum computes a step's resulting status from its vote tally.
// It is pure: approvals and refusals must come from a recount of the step's
// action rows, never from the cached decision counter.
func EvaluateQuorum(rule models.QuorumRule, totalValidators, approvals, refusals int, quorumCount *int) models.StageStatus {
	switch rule {
	case models.QuorumUnanimity:
		// A single refusal settles the step without waiting for the rest.
		if refusals > 0 {
			return models.StageRefused
		}
		if approvals == totalValidators {
			return models.StageApproved
		}
		return models.StageInProgress

	case models.QuorumMajority:
		threshold := totalValidators/2 + 1
		if approvals >= threshold {
			return models.StageApproved
		}
		if refusals >= threshold {
			return models.StageRefused
		}
		remaining := totalValidators - approvals - refusals
		// Neither side can reach the threshold anymore: unbreakable
		// deadlock, resolved as a refusal.
		if approvals+remaining < threshold && refusals+remaining < threshold {
			return models.StageRefused
		}
		return models.StageInProgress

	case models.QuorumAnyOf:
		// Refusal wins: one refusal refuses the step even though approvals
		// alone could still reach the required count. Intentional asymmetry.
		if refusals > 0 {
			return models.StageRefused
		}
		required := 1
		if quorumCount != nil {
			required = *quorumCount
		}
		if approvals >= required {
			return models.StageApproved
		}
		return models.StageInProgress
	}

	return models.StageInProgress
}

// EvaluatePhaseCompletion computes a phase's status from its steps' final
// statuses. One refused step refuses the phase immediately, without waiting
// for sibling steps of a parallel phase to resolve.
func EvaluatePhaseCompletion(stepStatuses []models.StageStatus) models.StageStatus {
	allApproved := true
	for _, s := range stepStatuses {
		if s == models.StageRefused {
			return models.StageRefused
		}
		if s != models.StageApproved {
			allApproved = false
		}
	}
	if allApproved && len(stepStatuses) > 0 {
		return models.StageApproved
	}
	return models.StageInProgress
}

// PreviousPhaseIndex returns the order of the phase refusal routing falls
// back to. Negative means the refusal happened in the first phase and the
// workflow itself is refused.
func PreviousPhaseIndex(order int) int {
	return order - 1
}
