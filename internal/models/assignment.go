package models

import "time"

// Assignment statuses.
const (
	AssignmentActive   = "active"
	AssignmentInactive = "inactive"
)

// DefaultAssignmentRole is used when the caller does not name one.
const DefaultAssignmentRole = "collaborateur"

// TaskAssignment links a task to an employee.
type TaskAssignment struct {
	ID          string     `db:"id" json:"id"`
	TaskID      string     `db:"task_id" json:"task_id"`
	EmployeeID  string     `db:"employee_id" json:"employee_id"`
	Role        string     `db:"role" json:"role"`
	Statut      string     `db:"statut" json:"statut"`
	AssignedAt  time.Time  `db:"assigned_at" json:"assigned_at"`
	DateLimite  *time.Time `db:"date_limite" json:"date_limite,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
}

// AssignmentDuration is the time spent on an assignment, nil while it is open.
func AssignmentDuration(a TaskAssignment) *time.Duration {
	if a.CompletedAt == nil {
		return nil
	}
	d := a.CompletedAt.Sub(a.AssignedAt)
	if d < 0 {
		d = 0
	}
	return &d
}

// TenderParticipation counts the tasks an employee holds on a tender.
type TenderParticipation struct {
	TenderID          string    `db:"tender_id" json:"tender_id"`
	EmployeeID        string    `db:"employee_id" json:"employee_id"`
	NbTachesAffectees int       `db:"nb_taches_affectees" json:"nb_taches_affectees"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Employee is a salaried worker who receives task assignments.
type Employee struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Poste     *string   `db:"poste" json:"poste,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
