// Package workflow holds the tender lifecycle state machine and the
// deadline-derived priorities used by notifications.
package workflow

import (
	"fmt"
	"strings"

	"github.com/noah-isme/marches-api/internal/models"
)

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventSelect         EventKind = "select"
	EventAcceptIntake   EventKind = "accept_intake"
	EventRejectIntake   EventKind = "reject_intake"
	EventPromote        EventKind = "promote"
	EventDirectorAccept EventKind = "director_accept"
	EventDirectorRefuse EventKind = "director_refuse"
	EventCancel         EventKind = "cancel"
)

// Event is a requested transition. Reason is only read by refusals.
type Event struct {
	Kind   EventKind
	Reason string
}

// State is the part of a tender the machine reasons about.
type State struct {
	IsAccepted bool
	Etat       models.TenderEtat
	Etape      models.TenderEtape
	Decision   models.TenderDecision
}

// StateOf extracts the machine state of t.
func StateOf(t *models.Tender) State {
	return State{IsAccepted: t.IsAccepted, Etat: t.Etat, Etape: t.Etape, Decision: t.Decision}
}

// RejectionCode classifies why a transition was refused.
type RejectionCode string

const (
	RejectTerminal        RejectionCode = "terminal"
	RejectAlreadyDecided  RejectionCode = "already_decided"
	RejectAlreadyAccepted RejectionCode = "already_accepted"
	RejectNotAccepted     RejectionCode = "not_accepted"
	RejectWrongStage      RejectionCode = "wrong_stage"
	RejectReasonRequired  RejectionCode = "reason_required"
	RejectUnknownEvent    RejectionCode = "unknown_event"
)

// Rejection explains a refused transition.
type Rejection struct {
	Code   RejectionCode
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

func reject(code RejectionCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Transition applies ev to s. It never mutates s and returns either the next
// state or the reason the event is not allowed from s.
func Transition(s State, ev Event) (State, *Rejection) {
	// director decisions report a prior ruling before anything else
	if ev.Kind == EventDirectorAccept || ev.Kind == EventDirectorRefuse {
		if !s.Decision.Pending() {
			return s, reject(RejectAlreadyDecided, "decision already recorded as %q", s.Decision)
		}
	}
	if s.Etat.Terminal() {
		return s, reject(RejectTerminal, "tender is %q", s.Etat)
	}

	next := s
	switch ev.Kind {
	case EventSelect:
		if s.IsAccepted {
			return s, reject(RejectAlreadyAccepted, "accepted tenders cannot be re-selected")
		}
		if s.Etape != models.EtapeNone && s.Etape != models.EtapeDecisionInitial {
			return s, reject(RejectWrongStage, "cannot select from stage %q", s.Etape)
		}
		next.IsAccepted = false
		next.Etat = models.EtatSelection
		next.Etape = models.EtapeDecisionInitial

	case EventAcceptIntake:
		if s.IsAccepted {
			return s, reject(RejectAlreadyAccepted, "tender already accepted")
		}
		next.IsAccepted = true
		next.Etat = models.EtatEnCours
		next.Etape = models.EtapeDecisionInitial

	case EventRejectIntake:
		if s.IsAccepted {
			return s, reject(RejectAlreadyAccepted, "accepted tenders go through the director")
		}
		next.IsAccepted = false
		next.Etat = models.EtatRejetee
		next.Etape = models.EtapeNone

	case EventPromote:
		if s.Etape != models.EtapeDecisionInitial {
			return s, reject(RejectWrongStage, "promotion requires stage %q, got %q", models.EtapeDecisionInitial, s.Etape)
		}
		next.IsAccepted = true
		next.Etat = models.EtatEnCours
		next.Etape = models.EtapeDecisionAdmin

	case EventDirectorAccept:
		if !s.IsAccepted {
			return s, reject(RejectNotAccepted, "tender was not accepted at intake")
		}
		if s.Etape != models.EtapeDecisionAdmin {
			return s, reject(RejectWrongStage, "decision requires stage %q, got %q", models.EtapeDecisionAdmin, s.Etape)
		}
		next.Etape = models.EtapeEtudesTechniques
		next.Decision = models.DecisionAccepte

	case EventDirectorRefuse:
		if s.Etape != models.EtapeDecisionAdmin {
			return s, reject(RejectWrongStage, "decision requires stage %q, got %q", models.EtapeDecisionAdmin, s.Etape)
		}
		if strings.TrimSpace(ev.Reason) == "" {
			return s, reject(RejectReasonRequired, "refusal needs a reason")
		}
		next.Etat = models.EtatRefuse
		next.Etape = models.EtapeCloture
		next.Decision = models.DecisionRefuse

	case EventCancel:
		next.Etat = models.EtatAnnulee

	default:
		return s, reject(RejectUnknownEvent, "unknown event %q", ev.Kind)
	}
	return next, nil
}
