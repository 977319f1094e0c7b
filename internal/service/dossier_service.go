package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/workflow"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

type dossierStore interface {
	ListByTender(ctx context.Context, tenderID string) ([]models.Dossier, error)
	GetByID(ctx context.Context, id string) (*models.Dossier, error)
	EnsureDossier(ctx context.Context, dossier *models.Dossier, tasks []*models.DossierTask, appendTasks bool) (bool, error)
	ListTasks(ctx context.Context, dossierID string) ([]models.DossierTask, error)
	GetTask(ctx context.Context, id string) (*models.DossierTask, error)
	TenderIDForDossier(ctx context.Context, dossierID string) (string, error)
	SaveTaskStatus(ctx context.Context, task *models.DossierTask) error
	HasActiveAssignment(ctx context.Context, taskID, employeeID string) (bool, error)
	Assign(ctx context.Context, assignment *models.TaskAssignment, tenderID string) error
	GetAssignment(ctx context.Context, id string) (*models.TaskAssignment, error)
	ListAssignments(ctx context.Context, taskID string) ([]models.TaskAssignment, error)
	Unassign(ctx context.Context, assignment *models.TaskAssignment, at time.Time) (bool, error)
}

type employeeLookup interface {
	GetByID(ctx context.Context, id string) (*models.Employee, error)
}

type tenderLookup interface {
	GetByID(ctx context.Context, id string) (*models.Tender, error)
}

type employeeNotifier interface {
	NotifyEmployee(ctx context.Context, employeeID string, input models.NewNotification) (*models.Notification, error)
}

// StoredFile is a file already written to storage, ready to become a task.
type StoredFile struct {
	Name string
	Path string
}

// DossierService manages tender dossiers, their tasks and assignments.
type DossierService struct {
	repo      dossierStore
	employees employeeLookup
	tenders   tenderLookup
	notifier  employeeNotifier
	history   *HistoryService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDossierService constructs a DossierService.
func NewDossierService(repo dossierStore, employees employeeLookup, tenders tenderLookup, notifier employeeNotifier, history *HistoryService, validate *validator.Validate, logger *zap.Logger) *DossierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DossierService{
		repo:      repo,
		employees: employees,
		tenders:   tenders,
		notifier:  notifier,
		history:   history,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnsureForTender creates every missing dossier of a tender with its default
// tasks. Existing dossiers are left alone, so calling it twice is harmless.
func (s *DossierService) EnsureForTender(ctx context.Context, tenderID string) ([]models.Dossier, error) {
	for _, kind := range models.DossierTypes {
		if _, err := s.ensure(ctx, tenderID, kind, defaultTasks(kind), false); err != nil {
			return nil, err
		}
	}
	return s.ListForTender(ctx, tenderID)
}

// AttachFinancierFiles makes sure the financier dossier exists and adds one
// completed task per stored file.
func (s *DossierService) AttachFinancierFiles(ctx context.Context, tenderID string, files []StoredFile) error {
	if _, err := s.ensure(ctx, tenderID, models.DossierFinancier, defaultTasks(models.DossierFinancier), false); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	now := s.now()
	tasks := make([]*models.DossierTask, 0, len(files))
	for i, file := range files {
		path := file.Path
		tasks = append(tasks, &models.DossierTask{
			Nom:         file.Name,
			Ordre:       100 + i,
			Statut:      models.TaskTerminee,
			DateDebut:   &now,
			DateFin:     &now,
			FichierPath: &path,
		})
	}
	_, err := s.ensure(ctx, tenderID, models.DossierFinancier, tasks, true)
	return err
}

func (s *DossierService) ensure(ctx context.Context, tenderID string, kind models.DossierType, tasks []*models.DossierTask, appendTasks bool) (bool, error) {
	dossier := &models.Dossier{TenderID: tenderID, Type: kind, Nom: models.DossierNames[kind]}
	created, err := s.repo.EnsureDossier(ctx, dossier, tasks, appendTasks)
	if err != nil {
		return false, appErrors.Internal(err, fmt.Sprintf("failed to prepare %s dossier", kind))
	}
	if created {
		s.logger.Info("dossier created", zap.String("tender_id", tenderID), zap.String("type", string(kind)), zap.Int("tasks", len(tasks)))
	}
	return created, nil
}

func defaultTasks(kind models.DossierType) []*models.DossierTask {
	names := models.DefaultTasks[kind]
	tasks := make([]*models.DossierTask, 0, len(names))
	for i, name := range names {
		tasks = append(tasks, &models.DossierTask{Nom: name, Ordre: i + 1})
	}
	return tasks
}

// ListForTender returns the dossiers of a tender with their completion.
func (s *DossierService) ListForTender(ctx context.Context, tenderID string) ([]models.Dossier, error) {
	dossiers, err := s.repo.ListByTender(ctx, tenderID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list dossiers")
	}
	for i := range dossiers {
		dossiers[i].Progress = models.CompletionPercent(dossiers[i].DoneTasks, dossiers[i].TotalTasks)
	}
	if dossiers == nil {
		dossiers = []models.Dossier{}
	}
	return dossiers, nil
}

// ListTasks returns the tasks of a dossier.
func (s *DossierService) ListTasks(ctx context.Context, dossierID string) ([]models.DossierTask, error) {
	if _, err := s.repo.GetByID(ctx, dossierID); err != nil {
		return nil, lookupError(err, "dossier")
	}
	tasks, err := s.repo.ListTasks(ctx, dossierID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list tasks")
	}
	if tasks == nil {
		tasks = []models.DossierTask{}
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task to a new status and stamps its dates.
func (s *DossierService) UpdateTaskStatus(ctx context.Context, taskID string, req dto.UpdateTaskStatusRequest, actor *models.Actor) (*models.DossierTask, error) {
	if !actor.Can(models.CapDossierManage) {
		return nil, appErrors.ErrForbidden
	}
	if !req.Statut.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown task status")
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, lookupError(err, "task")
	}
	previous := task.Statut
	task.ApplyStatus(req.Statut, s.now())
	if err := s.repo.SaveTaskStatus(ctx, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Internal(err, "failed to update task")
	}

	if tenderID, err := s.repo.TenderIDForDossier(ctx, task.DossierID); err == nil {
		s.history.Record(ctx, &models.TenderEvent{
			TenderID:        tenderID,
			DossierID:       &task.DossierID,
			TaskID:          &task.ID,
			TypeEvenement:   models.EventStatutTache,
			EtapePrecedente: stringPtr(string(previous)),
			EtapeNouvelle:   stringPtr(string(task.Statut)),
			Description:     fmt.Sprintf("Tâche « %s » : %s → %s", task.Nom, previous, task.Statut),
		}, actor, nil)
	}
	return task, nil
}

// AssignTask assigns an employee to a task and notifies them.
func (s *DossierService) AssignTask(ctx context.Context, taskID string, req dto.AssignTaskRequest, actor *models.Actor) (*models.TaskAssignment, error) {
	if !actor.Can(models.CapDossierManage) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, lookupError(err, "task")
	}
	employee, err := s.employees.GetByID(ctx, req.EmployeeID)
	if err != nil {
		return nil, lookupError(err, "employee")
	}
	if !employee.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "employee is inactive")
	}

	active, err := s.repo.HasActiveAssignment(ctx, task.ID, employee.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check existing assignment")
	}
	if active {
		return nil, appErrors.Clone(appErrors.ErrConflict, "employee already assigned to this task")
	}

	tenderID, err := s.repo.TenderIDForDossier(ctx, task.DossierID)
	if err != nil {
		return nil, lookupError(err, "dossier")
	}

	role := req.Role
	if role == "" {
		role = models.DefaultAssignmentRole
	}
	assignment := &models.TaskAssignment{
		TaskID:     task.ID,
		EmployeeID: employee.ID,
		Role:       role,
		AssignedAt: s.now(),
		DateLimite: req.DateLimite,
		Notes:      req.Notes,
	}
	if err := s.repo.Assign(ctx, assignment, tenderID); err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "employee already assigned to this task")
		}
		return nil, appErrors.Internal(err, "failed to assign task")
	}

	s.history.Record(ctx, &models.TenderEvent{
		TenderID:      tenderID,
		DossierID:     &task.DossierID,
		TaskID:        &task.ID,
		TypeEvenement: models.EventAffectationTache,
		Description:   fmt.Sprintf("Tâche « %s » affectée à %s", task.Nom, employee.FullName),
	}, actor, map[string]string{"employee_id": employee.ID, "role": role})

	s.notifyAssignment(ctx, tenderID, task, assignment)
	return assignment, nil
}

func (s *DossierService) notifyAssignment(ctx context.Context, tenderID string, task *models.DossierTask, assignment *models.TaskAssignment) {
	if s.notifier == nil {
		return
	}
	deadline := assignment.DateLimite
	if deadline == nil {
		deadline = task.DateLimite
	}
	payload := models.NotificationPayload{
		MarcheID:       tenderID,
		Titre:          "Nouvelle tâche affectée",
		Priority:       workflow.AssignmentPriority(deadline, s.now()),
		ActionRequired: true,
		DateLimite:     deadline,
		TaskID:         task.ID,
		TaskNom:        task.Nom,
		Link:           "/tasks/" + task.ID,
	}
	if s.tenders != nil {
		if tender, err := s.tenders.GetByID(ctx, tenderID); err == nil {
			payload.Reference = tender.Reference
			payload.Objet = tender.Objet
		}
	}
	if _, err := s.notifier.NotifyEmployee(ctx, assignment.EmployeeID, models.NewNotification{Type: models.NotificationTacheAffectation, Payload: payload}); err != nil {
		s.logger.Warn("failed to notify assigned employee", zap.String("assignment_id", assignment.ID), zap.Error(err))
	}
}

// UnassignTask closes an assignment. The task returns to pending when nobody
// else is working on it.
func (s *DossierService) UnassignTask(ctx context.Context, assignmentID string, actor *models.Actor) (*models.TaskAssignment, error) {
	if !actor.Can(models.CapDossierManage) {
		return nil, appErrors.ErrForbidden
	}
	assignment, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, lookupError(err, "assignment")
	}
	reverted, err := s.repo.Unassign(ctx, assignment, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment already closed")
		}
		return nil, appErrors.Internal(err, "failed to close assignment")
	}
	if reverted {
		s.logger.Info("task back to pending", zap.String("task_id", assignment.TaskID))
	}
	return assignment, nil
}

// TaskAssignments lists the assignments of a task with the time spent on each.
func (s *DossierService) TaskAssignments(ctx context.Context, taskID string) ([]dto.AssignmentView, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, lookupError(err, "task")
	}
	assignments, err := s.repo.ListAssignments(ctx, taskID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list assignments")
	}
	views := make([]dto.AssignmentView, 0, len(assignments))
	for _, a := range assignments {
		view := dto.AssignmentView{TaskAssignment: a}
		if d := models.AssignmentDuration(a); d != nil {
			secs := int64(d.Seconds())
			view.DurationSeconds = &secs
		}
		views = append(views, view)
	}
	return views, nil
}

func lookupError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return appErrors.Internal(err, "failed to load "+what)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
