package models

import "time"

// TaskStatus tracks a dossier task.
type TaskStatus string

const (
	TaskEnAttente TaskStatus = "en_attente"
	TaskEnCours   TaskStatus = "en_cours"
	TaskTerminee  TaskStatus = "terminee"
	TaskValidee   TaskStatus = "validee"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskEnAttente, TaskEnCours, TaskTerminee, TaskValidee:
		return true
	}
	return false
}

// Done reports whether s counts toward dossier completion.
func (s TaskStatus) Done() bool {
	return s == TaskTerminee || s == TaskValidee
}

// Task priorities.
const (
	PrioriteFaible  = "faible"
	PrioriteMoyenne = "moyenne"
	PrioriteElevee  = "elevee"
)

// DossierTask is a unit of work inside a dossier.
type DossierTask struct {
	ID          string     `db:"id" json:"id"`
	DossierID   string     `db:"dossier_id" json:"dossier_id"`
	Nom         string     `db:"nom" json:"nom"`
	Description *string    `db:"description" json:"description,omitempty"`
	Ordre       int        `db:"ordre" json:"ordre"`
	Priorite    string     `db:"priorite" json:"priorite"`
	Statut      TaskStatus `db:"statut" json:"statut"`
	DateLimite  *time.Time `db:"date_limite" json:"date_limite,omitempty"`
	DateDebut   *time.Time `db:"date_debut" json:"date_debut,omitempty"`
	DateFin     *time.Time `db:"date_fin" json:"date_fin,omitempty"`
	FichierPath *string    `db:"fichier_path" json:"fichier_path,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ApplyStatus moves the task to next and stamps its dates.
func (t *DossierTask) ApplyStatus(next TaskStatus, now time.Time) {
	wasDone := t.Statut.Done()
	switch {
	case next == TaskEnAttente:
		t.DateDebut = nil
		t.DateFin = nil
	case next == TaskEnCours:
		if t.DateDebut == nil {
			t.DateDebut = &now
		}
	case next.Done():
		if !wasDone {
			t.DateFin = &now
		}
	}
	t.Statut = next
}
