package workflow

import (
	"time"

	"github.com/noah-isme/marches-api/internal/models"
)

// Deadline urgency labels shown next to a tender.
const (
	UrgencyExpired  = "expire"
	UrgencyCritical = "critique"
	UrgencyUrgent   = "urgent"
	UrgencyNormal   = "normal"
)

// DeadlineUrgency grades the time left before deadline. No deadline is normal.
func DeadlineUrgency(deadline *time.Time, now time.Time) string {
	if deadline == nil {
		return UrgencyNormal
	}
	switch days := models.DaysUntil(*deadline, now); {
	case days <= 0:
		return UrgencyExpired
	case days <= 3:
		return UrgencyCritical
	case days <= 7:
		return UrgencyUrgent
	default:
		return UrgencyNormal
	}
}

// DecisionPriority is the notification priority of a director decision.
// Refusals never need action and are always informational.
func DecisionPriority(decision models.TenderDecision, deadline *time.Time, now time.Time) string {
	if decision != models.DecisionAccepte || deadline == nil {
		return models.PriorityInfo
	}
	switch days := models.DaysUntil(*deadline, now); {
	case days <= 5:
		return models.PriorityCritique
	case days <= 10:
		return models.PriorityUrgent
	case days <= 20:
		return models.PriorityNormal
	default:
		return models.PriorityInfo
	}
}

// AssignmentPriority grades a task assignment by its own deadline.
func AssignmentPriority(deadline *time.Time, now time.Time) string {
	if deadline == nil {
		return models.PriorityNormal
	}
	switch days := models.DaysUntil(*deadline, now); {
	case days <= 1:
		return models.PriorityCritique
	case days <= 3:
		return models.PriorityUrgent
	default:
		return models.PriorityNormal
	}
}

// HistoryType maps a transition to the event type written in tender history.
func HistoryType(kind EventKind) string {
	switch kind {
	case EventSelect:
		return models.EventSelection
	case EventAcceptIntake:
		return models.EventAcceptationInitial
	case EventRejectIntake:
		return models.EventRejetInitial
	case EventPromote:
		return models.EventAcceptationMarche
	case EventDirectorAccept:
		return models.EventDecisionAcceptee
	case EventDirectorRefuse:
		return models.EventDecisionRefusee
	case EventCancel:
		return models.EventAnnulation
	}
	return string(kind)
}
