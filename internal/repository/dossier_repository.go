package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/marches-api/internal/models"
)

const dossierColumns = `d.id, d.tender_id, d.type, d.nom, d.statut, d.created_at,
	COUNT(t.id) AS total_tasks,
	COUNT(t.id) FILTER (WHERE t.statut IN ('terminee', 'validee')) AS done_tasks`

const taskColumns = `id, dossier_id, nom, description, ordre, priorite, statut, date_limite, date_debut, date_fin, fichier_path, created_at, updated_at`

const assignmentColumns = `id, task_id, employee_id, role, statut, assigned_at, date_limite, completed_at, notes`

// DossierRepository persists dossiers, their tasks and task assignments.
type DossierRepository struct {
	db *sqlx.DB
}

// NewDossierRepository constructs the repository.
func NewDossierRepository(db *sqlx.DB) *DossierRepository {
	return &DossierRepository{db: db}
}

// ListByTender returns the dossiers of a tender with their task counts.
func (r *DossierRepository) ListByTender(ctx context.Context, tenderID string) ([]models.Dossier, error) {
	query := `SELECT ` + dossierColumns + `
	FROM dossiers d LEFT JOIN dossier_tasks t ON t.dossier_id = d.id
	WHERE d.tender_id = $1
	GROUP BY d.id ORDER BY d.created_at`
	var dossiers []models.Dossier
	if err := r.db.SelectContext(ctx, &dossiers, query, tenderID); err != nil {
		return nil, fmt.Errorf("list dossiers: %w", err)
	}
	return dossiers, nil
}

// GetByID fetches one dossier with its task counts.
func (r *DossierRepository) GetByID(ctx context.Context, id string) (*models.Dossier, error) {
	query := `SELECT ` + dossierColumns + `
	FROM dossiers d LEFT JOIN dossier_tasks t ON t.dossier_id = d.id
	WHERE d.id = $1 GROUP BY d.id`
	var dossier models.Dossier
	if err := r.db.GetContext(ctx, &dossier, query, id); err != nil {
		return nil, err
	}
	return &dossier, nil
}

// EnsureDossier creates the (tender, type) dossier when missing. Tasks are
// inserted when the dossier is new, or always when appendTasks is set.
// It reports whether the dossier was created.
func (r *DossierRepository) EnsureDossier(ctx context.Context, dossier *models.Dossier, tasks []*models.DossierTask, appendTasks bool) (created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin dossier: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existingID string
	lookupErr := tx.GetContext(ctx, &existingID, `SELECT id FROM dossiers WHERE tender_id = $1 AND type = $2 FOR UPDATE`, dossier.TenderID, dossier.Type)
	switch {
	case lookupErr == nil:
		dossier.ID = existingID
	case errors.Is(lookupErr, sql.ErrNoRows):
		if dossier.ID == "" {
			dossier.ID = uuid.NewString()
		}
		if dossier.Statut == "" {
			dossier.Statut = models.DossierStatutEnAttente
		}
		dossier.CreatedAt = time.Now().UTC()
		const insert = `INSERT INTO dossiers (id, tender_id, type, nom, statut, created_at) VALUES (:id, :tender_id, :type, :nom, :statut, :created_at)`
		if _, err = tx.NamedExecContext(ctx, insert, dossier); err != nil {
			return false, fmt.Errorf("create dossier: %w", err)
		}
		created = true
	default:
		err = fmt.Errorf("lookup dossier: %w", lookupErr)
		return false, err
	}

	if created || appendTasks {
		if err = insertTasks(ctx, tx, dossier.ID, tasks); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit dossier: %w", err)
	}
	return created, nil
}

func insertTasks(ctx context.Context, tx *sqlx.Tx, dossierID string, tasks []*models.DossierTask) error {
	const query = `INSERT INTO dossier_tasks
	(id, dossier_id, nom, description, ordre, priorite, statut, date_limite, date_debut, date_fin, fichier_path, created_at, updated_at)
	VALUES (:id, :dossier_id, :nom, :description, :ordre, :priorite, :statut, :date_limite, :date_debut, :date_fin, :fichier_path, :created_at, :updated_at)`
	now := time.Now().UTC()
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		task.DossierID = dossierID
		if task.Statut == "" {
			task.Statut = models.TaskEnAttente
		}
		if task.Priorite == "" {
			task.Priorite = models.PrioriteMoyenne
		}
		task.CreatedAt, task.UpdatedAt = now, now
		if _, err := tx.NamedExecContext(ctx, query, task); err != nil {
			return fmt.Errorf("create task %q: %w", task.Nom, err)
		}
	}
	return nil
}

// ListTasks returns the tasks of a dossier in display order.
func (r *DossierRepository) ListTasks(ctx context.Context, dossierID string) ([]models.DossierTask, error) {
	query := `SELECT ` + taskColumns + ` FROM dossier_tasks WHERE dossier_id = $1 ORDER BY ordre, created_at`
	var tasks []models.DossierTask
	if err := r.db.SelectContext(ctx, &tasks, query, dossierID); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// GetTask fetches one task.
func (r *DossierRepository) GetTask(ctx context.Context, id string) (*models.DossierTask, error) {
	query := `SELECT ` + taskColumns + ` FROM dossier_tasks WHERE id = $1`
	var task models.DossierTask
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		return nil, err
	}
	return &task, nil
}

// TenderIDForDossier resolves the owning tender of a dossier.
func (r *DossierRepository) TenderIDForDossier(ctx context.Context, dossierID string) (string, error) {
	var tenderID string
	if err := r.db.GetContext(ctx, &tenderID, `SELECT tender_id FROM dossiers WHERE id = $1`, dossierID); err != nil {
		return "", err
	}
	return tenderID, nil
}

// SaveTaskStatus stores the status and dates computed by the caller.
func (r *DossierRepository) SaveTaskStatus(ctx context.Context, task *models.DossierTask) error {
	task.UpdatedAt = time.Now().UTC()
	const query = `UPDATE dossier_tasks SET statut = :statut, date_debut = :date_debut, date_fin = :date_fin, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HasActiveAssignment reports whether employeeID already holds taskID.
func (r *DossierRepository) HasActiveAssignment(ctx context.Context, taskID, employeeID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM task_assignments WHERE task_id = $1 AND employee_id = $2 AND statut = 'active')`
	if err := r.db.GetContext(ctx, &exists, query, taskID, employeeID); err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return exists, nil
}

// Assign stores an assignment, starts a pending task and bumps the employee's
// participation on the tender, all in one transaction.
func (r *DossierRepository) Assign(ctx context.Context, assignment *models.TaskAssignment, tenderID string) (err error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	assignment.Statut = models.AssignmentActive

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO task_assignments (id, task_id, employee_id, role, statut, assigned_at, date_limite, completed_at, notes)
	VALUES (:id, :task_id, :employee_id, :role, :statut, :assigned_at, :date_limite, :completed_at, :notes)`
	if _, err = tx.NamedExecContext(ctx, insert, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}

	const start = `UPDATE dossier_tasks SET statut = 'en_cours', date_debut = COALESCE(date_debut, $2), updated_at = $2 WHERE id = $1 AND statut = 'en_attente'`
	if _, err = tx.ExecContext(ctx, start, assignment.TaskID, assignment.AssignedAt); err != nil {
		return fmt.Errorf("start assigned task: %w", err)
	}

	const participation = `INSERT INTO tender_participations (tender_id, employee_id, nb_taches_affectees, updated_at)
	VALUES ($1, $2, 1, $3)
	ON CONFLICT (tender_id, employee_id) DO UPDATE SET nb_taches_affectees = tender_participations.nb_taches_affectees + 1, updated_at = EXCLUDED.updated_at`
	if _, err = tx.ExecContext(ctx, participation, tenderID, assignment.EmployeeID, assignment.AssignedAt); err != nil {
		return fmt.Errorf("upsert participation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

// GetAssignment fetches one assignment.
func (r *DossierRepository) GetAssignment(ctx context.Context, id string) (*models.TaskAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM task_assignments WHERE id = $1`
	var assignment models.TaskAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListAssignments returns every assignment of a task, newest first.
func (r *DossierRepository) ListAssignments(ctx context.Context, taskID string) ([]models.TaskAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM task_assignments WHERE task_id = $1 ORDER BY assigned_at DESC`
	var assignments []models.TaskAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, taskID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// Unassign closes an active assignment. When it was the last active one on a
// task in progress, the task goes back to pending. It reports that revert.
func (r *DossierRepository) Unassign(ctx context.Context, assignment *models.TaskAssignment, at time.Time) (reverted bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin unassign: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE task_assignments SET statut = 'inactive', completed_at = $2 WHERE id = $1 AND statut = 'active'`, assignment.ID, at)
	if err != nil {
		return false, fmt.Errorf("close assignment: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return false, err
	}

	var remaining int
	if err = tx.GetContext(ctx, &remaining, `SELECT COUNT(*) FROM task_assignments WHERE task_id = $1 AND statut = 'active'`, assignment.TaskID); err != nil {
		return false, fmt.Errorf("count active assignments: %w", err)
	}
	if remaining == 0 {
		res, err = tx.ExecContext(ctx, `UPDATE dossier_tasks SET statut = 'en_attente', date_debut = NULL, date_fin = NULL, updated_at = $2 WHERE id = $1 AND statut = 'en_cours'`, assignment.TaskID, at)
		if err != nil {
			return false, fmt.Errorf("revert task: %w", err)
		}
		affected, _ := res.RowsAffected()
		reverted = affected > 0
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit unassign: %w", err)
	}
	assignment.Statut = models.AssignmentInactive
	assignment.CompletedAt = &at
	return reverted, nil
}
