package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Tender history event types.
const (
	EventSelection          = "selection_marche"
	EventAcceptationInitial = "acceptation_initiale"
	EventRejetInitial       = "rejet_initial"
	EventAcceptationMarche  = "acceptation_marche"
	EventDecisionAcceptee   = "decision_acceptee"
	EventDecisionRefusee    = "decision_refusee"
	EventAnnulation         = "annulation_marche"
	EventAffectationTache   = "affectation_tache"
	EventStatutTache        = "statut_tache"
)

// TenderEvent is one line of a tender's history.
type TenderEvent struct {
	ID              string         `db:"id" json:"id"`
	TenderID        string         `db:"tender_id" json:"tender_id"`
	DossierID       *string        `db:"dossier_id" json:"dossier_id,omitempty"`
	TaskID          *string        `db:"task_id" json:"task_id,omitempty"`
	UserID          *string        `db:"user_id" json:"user_id,omitempty"`
	TypeEvenement   string         `db:"type_evenement" json:"type_evenement"`
	EtapePrecedente *string        `db:"etape_precedente" json:"etape_precedente,omitempty"`
	EtapeNouvelle   *string        `db:"etape_nouvelle" json:"etape_nouvelle,omitempty"`
	Description     string         `db:"description" json:"description"`
	Commentaire     *string        `db:"commentaire" json:"commentaire,omitempty"`
	Donnees         types.JSONText `db:"donnees" json:"donnees,omitempty"`
	Role            *string        `db:"role" json:"role,omitempty"`
	IP              *string        `db:"ip" json:"ip,omitempty"`
	DateEvenement   time.Time      `db:"date_evenement" json:"date_evenement"`
}
