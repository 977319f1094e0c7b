package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Recipient types.
const (
	RecipientUser     = "user"
	RecipientEmployee = "employee"
)

// Notification types.
const (
	NotificationMarcheDecision        = "marche_decision"
	NotificationMarcheValidationAdmin = "marche_validation_admin"
	NotificationTacheAffectation      = "tache_affectation"
)

// Notification priorities.
const (
	PriorityCritique = "critique"
	PriorityUrgent   = "urgent"
	PriorityNormal   = "normal"
	PriorityInfo     = "info"
)

// NotificationEvent is the push event name.
const NotificationEvent = "notification.created"

// Notification is one persisted message for one recipient.
type Notification struct {
	ID            string         `db:"id" json:"id"`
	RecipientType string         `db:"recipient_type" json:"recipient_type"`
	RecipientID   string         `db:"recipient_id" json:"recipient_id"`
	Type          string         `db:"type" json:"type"`
	Data          types.JSONText `db:"data" json:"data"`
	ReadAt        *time.Time     `db:"read_at" json:"read_at,omitempty"`
	PushedAt      *time.Time     `db:"pushed_at" json:"pushed_at,omitempty"`
	PushAttempts  int            `db:"push_attempts" json:"-"`
	LastPushError *string        `db:"last_push_error" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// NotificationPayload is the data carried by tender notifications.
type NotificationPayload struct {
	MarcheID       string     `json:"marche_id,omitempty"`
	Reference      string     `json:"reference,omitempty"`
	Objet          string     `json:"objet,omitempty"`
	TypeAO         string     `json:"type_ao,omitempty"`
	Estimation     *float64   `json:"estimation,omitempty"`
	DateLimite     *time.Time `json:"date_limite,omitempty"`
	Decision       string     `json:"decision,omitempty"`
	Titre          string     `json:"titre"`
	Commentaire    string     `json:"commentaire,omitempty"`
	Priority       string     `json:"priority"`
	ActionRequired bool       `json:"action_required"`
	Link           string     `json:"link,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	TaskNom        string     `json:"task_nom,omitempty"`
}

// NewNotification is the input to a fan-out.
type NewNotification struct {
	Type    string
	Payload NotificationPayload
}

// NotificationFilter narrows a recipient's inbox.
type NotificationFilter struct {
	RecipientType string
	RecipientID   string
	UnreadOnly    bool
	Page          int
	PageSize      int
}
