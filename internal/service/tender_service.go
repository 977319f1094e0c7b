package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/workflow"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

type tenderStore interface {
	GetByID(ctx context.Context, id string) (*models.Tender, error)
	List(ctx context.Context, filter models.TenderFilter) ([]models.Tender, int, error)
	ListAll(ctx context.Context, filter models.TenderFilter) ([]models.Tender, error)
	CountByView(ctx context.Context) (map[models.TenderView]int, error)
	ApplyChange(ctx context.Context, change models.TenderChange) error
}

type dossierPreparer interface {
	EnsureForTender(ctx context.Context, tenderID string) ([]models.Dossier, error)
	AttachFinancierFiles(ctx context.Context, tenderID string, files []StoredFile) error
}

type roleNotifier interface {
	NotifyRoles(ctx context.Context, roles []models.UserRole, input models.NewNotification) ([]models.Notification, error)
}

// TenderService drives the tender lifecycle. Each transition is checked by the
// workflow state machine, then written with a version compare-and-swap.
type TenderService struct {
	repo      tenderStore
	dossiers  dossierPreparer
	notifier  roleNotifier
	history   *HistoryService
	cache     *CacheService
	metrics   *MetricsService
	exporter  *ExportService
	files     fileStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// TenderServiceDeps groups the collaborators of TenderService.
type TenderServiceDeps struct {
	Repo      tenderStore
	Dossiers  dossierPreparer
	Notifier  roleNotifier
	History   *HistoryService
	Cache     *CacheService
	Metrics   *MetricsService
	Exporter  *ExportService
	Files     fileStore
	Audit     auditLogger
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewTenderService constructs a TenderService.
func NewTenderService(deps TenderServiceDeps) *TenderService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Exporter == nil {
		deps.Exporter = NewExportService(nil, nil)
	}
	return &TenderService{
		repo:      deps.Repo,
		dossiers:  deps.Dossiers,
		notifier:  deps.Notifier,
		history:   deps.History,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		exporter:  deps.Exporter,
		files:     deps.Files,
		audit:     deps.Audit,
		validator: deps.Validator,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns one tender with its deadline urgency.
func (s *TenderService) Get(ctx context.Context, id string, actor *models.Actor) (*dto.TenderSummary, error) {
	if !actor.Can(models.CapTenderView) {
		return nil, appErrors.ErrForbidden
	}
	tender, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := s.summarize(*tender)
	return &summary, nil
}

// List returns one page of a tender view.
func (s *TenderService) List(ctx context.Context, query dto.TenderListQuery, actor *models.Actor) ([]dto.TenderSummary, *models.Pagination, error) {
	if !actor.Can(models.CapTenderView) {
		return nil, nil, appErrors.ErrForbidden
	}
	if query.View == "" {
		query.View = models.ViewPublic
	}
	if !query.View.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown view")
	}
	pagination := models.Pagination{Page: query.Page, PageSize: query.PageSize}
	pagination.Normalize()

	tenders, total, err := s.repo.List(ctx, models.TenderFilter{
		View:     query.View,
		Search:   strings.TrimSpace(query.Search),
		Page:     pagination.Page,
		PageSize: pagination.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list tenders")
	}
	pagination.TotalCount = total

	items := make([]dto.TenderSummary, 0, len(tenders))
	for _, t := range tenders {
		items = append(items, s.summarize(t))
	}
	return items, &pagination, nil
}

// Stats counts tenders per view. The second value reports a cache hit.
func (s *TenderService) Stats(ctx context.Context, actor *models.Actor) (*models.TenderStats, bool, error) {
	if !actor.Can(models.CapTenderView) {
		return nil, false, appErrors.ErrForbidden
	}
	var cached models.TenderStats
	if hit, _ := s.cache.Get(ctx, tenderStatsCacheKey, &cached); hit {
		return &cached, true, nil
	}
	counts, err := s.repo.CountByView(ctx)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to count tenders")
	}
	stats := &models.TenderStats{Counts: counts, GeneratedAt: s.now()}
	_ = s.cache.Set(ctx, tenderStatsCacheKey, stats, 0)
	return stats, false, nil
}

// Export renders every tender of a view as CSV or PDF.
func (s *TenderService) Export(ctx context.Context, query dto.TenderExportQuery, actor *models.Actor) (*ExportFile, error) {
	if !actor.Can(models.CapTenderView) {
		return nil, appErrors.ErrForbidden
	}
	if query.View == "" {
		query.View = models.ViewPublic
	}
	if !query.View.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown view")
	}
	tenders, err := s.repo.ListAll(ctx, models.TenderFilter{View: query.View})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load tenders for export")
	}
	return s.exporter.Tenders(query.View, tenders, query.Format)
}

// Select puts a public tender under review.
func (s *TenderService) Select(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapTenderIntake) {
		return nil, appErrors.ErrForbidden
	}
	tender, err := s.transition(ctx, id, workflow.Event{Kind: workflow.EventSelect}, actor, nil, "Marché mis en sélection", "")
	if err != nil {
		return nil, err
	}
	return &dto.TransitionResult{Tender: tender}, nil
}

// AcceptIntake accepts a tender at the initial decision and classifies it.
func (s *TenderService) AcceptIntake(ctx context.Context, id string, req dto.AcceptIntakeRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapTenderIntake) {
		return nil, appErrors.ErrForbidden
	}
	importance := strings.TrimSpace(req.Importance)
	if !models.ValidImportance(importance) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "importance is required and must be a known class")
	}
	tender, err := s.transition(ctx, id, workflow.Event{Kind: workflow.EventAcceptIntake}, actor, func(c *models.TenderChange) {
		c.Importance = &importance
	}, "Marché accepté à la décision initiale", "")
	if err != nil {
		return nil, err
	}
	return &dto.TransitionResult{Tender: tender}, nil
}

// RejectIntake rejects a tender at the initial decision. A missing reason is
// replaced by a default so rejected tenders always carry one.
func (s *TenderService) RejectIntake(ctx context.Context, id string, req dto.RejectIntakeRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapTenderIntake) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	motif := strings.TrimSpace(req.Motif)
	if motif == "" {
		motif = models.DefaultIntakeRejectionReason
	}
	tender, err := s.transition(ctx, id, workflow.Event{Kind: workflow.EventRejectIntake, Reason: motif}, actor, func(c *models.TenderChange) {
		c.MotifRefus = &motif
	}, "Marché rejeté à la décision initiale", motif)
	if err != nil {
		return nil, err
	}
	return &dto.TransitionResult{Tender: tender}, nil
}

// Promote sends an accepted tender to the director. Uploaded files go to the
// financier dossier and every admin is notified.
func (s *TenderService) Promote(ctx context.Context, id string, req dto.PromoteRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapTenderPromote) {
		return nil, appErrors.ErrForbidden
	}
	importance := strings.TrimSpace(req.Importance)
	if !models.ValidImportance(importance) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "importance is required and must be a known class")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	// fail before touching storage when the move is not allowed
	event := workflow.Event{Kind: workflow.EventPromote}
	if _, rej := workflow.Transition(workflow.StateOf(current), event); rej != nil {
		s.metrics.RecordTransition(string(event.Kind), "rejected")
		return nil, rejectionError(rej)
	}

	var stored []StoredFile
	if len(req.Files) > 0 {
		if s.files == nil {
			return nil, appErrors.Clone(appErrors.ErrInternal, "file storage unavailable")
		}
		stored, err = storePromotionFiles(s.files, fmt.Sprintf("tenders/%s/financier", id), req.Files)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to store promotion files")
		}
	}

	tender, err := s.transitionFrom(ctx, current, event, actor, func(c *models.TenderChange) {
		c.Importance = &importance
	}, "Marché transmis à la direction", "")
	if err != nil {
		removeStored(s.files, stored)
		return nil, err
	}
	// the tender is already promoted: keep the files so they can be attached again
	if err := s.dossiers.AttachFinancierFiles(ctx, id, stored); err != nil {
		paths := make([]string, 0, len(stored))
		for _, f := range stored {
			paths = append(paths, f.Path)
		}
		s.logger.Error("failed to attach financier files", zap.String("tender_id", id), zap.Strings("files", paths), zap.Error(err))
	}

	names := make([]string, 0, len(stored))
	for _, f := range stored {
		names = append(names, f.Name)
	}
	sent := s.notify(ctx, []models.UserRole{models.RoleAdmin}, models.NotificationMarcheValidationAdmin, tender, models.NotificationPayload{
		Titre:          "Nouveau marché à valider",
		Priority:       validationPriority(tender.DateLimite, s.now()),
		ActionRequired: true,
	})
	return &dto.TransitionResult{Tender: tender, Notifications: sent, Files: names}, nil
}

// DirectorAccept records the director's approval, opens the dossiers and
// alerts the technical studies team.
func (s *TenderService) DirectorAccept(ctx context.Context, id string, req dto.DirectorAcceptRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapDirectorDecision) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	now := s.now()
	ordre := models.OrdrePreparationInitial
	commentaire := strings.TrimSpace(req.Commentaire)
	tender, err := s.transition(ctx, id, workflow.Event{Kind: workflow.EventDirectorAccept}, actor, func(c *models.TenderChange) {
		c.DateDecision = &now
		c.OrdrePreparation = &ordre
	}, "Marché accepté par la direction", commentaire)
	if err != nil {
		return nil, err
	}

	dossiers, err := s.dossiers.EnsureForTender(ctx, id)
	if err != nil {
		s.logger.Error("failed to prepare dossiers", zap.String("tender_id", id), zap.Error(err))
	}

	sent := s.notify(ctx, []models.UserRole{models.RoleEtudesTechniques}, models.NotificationMarcheDecision, tender, models.NotificationPayload{
		Decision:       string(models.DecisionAccepte),
		Titre:          "Marché accepté par la direction",
		Commentaire:    commentaire,
		Priority:       workflow.DecisionPriority(models.DecisionAccepte, tender.DateLimite, now),
		ActionRequired: true,
	})
	return &dto.TransitionResult{Tender: tender, Notifications: sent, Dossiers: dossiers}, nil
}

// DirectorRefuse records the director's refusal with its reason.
func (s *TenderService) DirectorRefuse(ctx context.Context, id string, req dto.DirectorRefuseRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapDirectorDecision) {
		return nil, appErrors.ErrForbidden
	}
	req.Motif = strings.TrimSpace(req.Motif)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "motif must be between 5 and 500 characters")
	}
	now := s.now()
	motif := req.Motif
	commentaire := strings.TrimSpace(req.Commentaire)
	tender, err := s.transition(ctx, id, workflow.Event{Kind: workflow.EventDirectorRefuse, Reason: motif}, actor, func(c *models.TenderChange) {
		c.MotifRefus = &motif
		c.DateDecision = &now
		if commentaire != "" {
			c.CommentaireRefus = &commentaire
		}
	}, "Marché refusé par la direction", motif)
	if err != nil {
		return nil, err
	}

	text := motif
	if commentaire != "" {
		text = motif + " - " + commentaire
	}
	sent := s.notify(ctx, []models.UserRole{models.RoleEtudesTechniques, models.RoleDirection}, models.NotificationMarcheDecision, tender, models.NotificationPayload{
		Decision:    string(models.DecisionRefuse),
		Titre:       "Marché refusé par la direction",
		Commentaire: text,
		Priority:    workflow.DecisionPriority(models.DecisionRefuse, tender.DateLimite, now),
	})
	return &dto.TransitionResult{Tender: tender, Notifications: sent}, nil
}

// Cancel withdraws a tender. The stage is kept as it was.
func (s *TenderService) Cancel(ctx context.Context, id string, req dto.CancelRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	if !actor.Can(models.CapTenderCancel) {
		return nil, appErrors.ErrForbidden
	}
	req.Motif = strings.TrimSpace(req.Motif)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "motif is required (500 characters max)")
	}
	now := s.now()
	motif := req.Motif
	by := actor.UserID
	tender, err := s.transition(ctx, id, workflow.Event{Kind: workflow.EventCancel, Reason: motif}, actor, func(c *models.TenderChange) {
		c.MotifAnnulation = &motif
		c.DateAnnulation = &now
		c.AnnulePar = &by
	}, "Marché annulé", motif)
	if err != nil {
		return nil, err
	}
	return &dto.TransitionResult{Tender: tender}, nil
}

func (s *TenderService) load(ctx context.Context, id string) (*models.Tender, error) {
	tender, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "tender")
	}
	return tender, nil
}

func (s *TenderService) transition(ctx context.Context, id string, ev workflow.Event, actor *models.Actor, fill func(*models.TenderChange), description, commentaire string) (*models.Tender, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transitionFrom(ctx, current, ev, actor, fill, description, commentaire)
}

func (s *TenderService) transitionFrom(ctx context.Context, current *models.Tender, ev workflow.Event, actor *models.Actor, fill func(*models.TenderChange), description, commentaire string) (*models.Tender, error) {
	next, rej := workflow.Transition(workflow.StateOf(current), ev)
	if rej != nil {
		s.metrics.RecordTransition(string(ev.Kind), "rejected")
		return nil, rejectionError(rej)
	}

	change := models.TenderChange{
		ID:               current.ID,
		ExpectedVersion:  current.Version,
		IsAccepted:       next.IsAccepted,
		Etat:             next.Etat,
		Etape:            next.Etape,
		Decision:         next.Decision,
		RequireUndecided: ev.Kind == workflow.EventDirectorAccept || ev.Kind == workflow.EventDirectorRefuse,
	}
	if fill != nil {
		fill(&change)
	}

	if err := s.repo.ApplyChange(ctx, change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordTransition(string(ev.Kind), "conflict")
			return nil, appErrors.Clone(appErrors.ErrConflict, "tender was modified concurrently or already processed")
		}
		s.metrics.RecordTransition(string(ev.Kind), "error")
		return nil, appErrors.Internal(err, "failed to update tender")
	}
	s.metrics.RecordTransition(string(ev.Kind), "applied")

	updated := applyChange(*current, change)
	s.logger.Info("tender transition",
		zap.String("tender_id", updated.ID),
		zap.String("reference", updated.Reference),
		zap.String("event", string(ev.Kind)),
		zap.String("etat", string(updated.Etat)),
		zap.String("etape", string(updated.Etape)),
		zap.String("actor", actorID(actor)))

	s.history.Record(ctx, &models.TenderEvent{
		TenderID:        updated.ID,
		TypeEvenement:   workflow.HistoryType(ev.Kind),
		EtapePrecedente: stringPtr(string(current.Etape)),
		EtapeNouvelle:   stringPtr(string(updated.Etape)),
		Description:     description,
		Commentaire:     stringPtr(commentaire),
	}, actor, map[string]string{"etat_precedent": string(current.Etat), "etat_nouveau": string(updated.Etat)})

	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionTransition, "tender", updated.ID, map[string]interface{}{
		"event":   ev.Kind,
		"from":    workflow.StateOf(current),
		"to":      next,
		"version": updated.Version,
	})

	_ = s.cache.Invalidate(ctx, tenderCachePattern)
	return &updated, nil
}

func (s *TenderService) notify(ctx context.Context, roles []models.UserRole, kind string, tender *models.Tender, payload models.NotificationPayload) int {
	if s.notifier == nil {
		return 0
	}
	payload.MarcheID = tender.ID
	payload.Reference = tender.Reference
	payload.Objet = tender.Objet
	payload.TypeAO = deref(tender.TypeAO)
	payload.Estimation = tender.Estimation
	payload.DateLimite = tender.DateLimite
	payload.Link = "/tenders/" + tender.ID
	sent, err := s.notifier.NotifyRoles(ctx, roles, models.NewNotification{Type: kind, Payload: payload})
	if err != nil {
		s.logger.Warn("failed to notify roles", zap.String("tender_id", tender.ID), zap.String("type", kind), zap.Error(err))
		return 0
	}
	return len(sent)
}

func (s *TenderService) summarize(t models.Tender) dto.TenderSummary {
	now := s.now()
	summary := dto.TenderSummary{Tender: t, Urgency: workflow.DeadlineUrgency(t.DateLimite, now)}
	if t.DateLimite != nil {
		days := models.DaysUntil(*t.DateLimite, now)
		summary.DaysRemaining = &days
	}
	return summary
}

func applyChange(t models.Tender, c models.TenderChange) models.Tender {
	t.IsAccepted = c.IsAccepted
	t.Etat = c.Etat
	t.Etape = c.Etape
	t.Decision = c.Decision
	if c.Importance != nil {
		t.Importance = *c.Importance
	}
	if c.DateDecision != nil {
		t.DateDecision = c.DateDecision
	}
	if c.OrdrePreparation != nil {
		t.OrdrePreparation = c.OrdrePreparation
	}
	if c.MotifRefus != nil {
		t.MotifRefus = c.MotifRefus
	}
	if c.CommentaireRefus != nil {
		t.CommentaireRefus = c.CommentaireRefus
	}
	if c.MotifAnnulation != nil {
		t.MotifAnnulation = c.MotifAnnulation
	}
	if c.DateAnnulation != nil {
		t.DateAnnulation = c.DateAnnulation
	}
	if c.AnnulePar != nil {
		t.AnnulePar = c.AnnulePar
	}
	t.Version = c.ExpectedVersion + 1
	return t
}

func rejectionError(rej *workflow.Rejection) error {
	if rej.Code == workflow.RejectAlreadyDecided {
		return appErrors.Clone(appErrors.ErrAlreadyDecided, rej.Reason)
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, rej.Reason)
}

func validationPriority(deadline *time.Time, now time.Time) string {
	switch workflow.DeadlineUrgency(deadline, now) {
	case workflow.UrgencyExpired, workflow.UrgencyCritical:
		return models.PriorityCritique
	case workflow.UrgencyUrgent:
		return models.PriorityUrgent
	}
	return models.PriorityNormal
}

func actorID(actor *models.Actor) string {
	if actor == nil {
		return ""
	}
	return actor.UserID
}
