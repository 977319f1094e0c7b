package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

type historyStore interface {
	Create(ctx context.Context, event *models.TenderEvent) error
	ListByTender(ctx context.Context, tenderID string) ([]models.TenderEvent, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// HistoryService records and reads the tender timeline.
type HistoryService struct {
	repo   historyStore
	logger *zap.Logger
	now    func() time.Time
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(repo historyStore, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record stores event. Failures are logged and never surface to the caller.
func (s *HistoryService) Record(ctx context.Context, event *models.TenderEvent, actor *models.Actor, data interface{}) {
	if s == nil || s.repo == nil || event == nil {
		return
	}
	if event.DateEvenement.IsZero() {
		event.DateEvenement = s.now()
	}
	if actor != nil {
		event.UserID = stringPtr(actor.UserID)
		event.Role = stringPtr(string(actor.Role))
		event.IP = stringPtr(actor.IP)
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			event.Donnees = types.JSONText(raw)
		}
	}
	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.Warn("failed to record tender event",
			zap.String("tender_id", event.TenderID),
			zap.String("type", event.TypeEvenement),
			zap.Error(err))
	}
}

// ListForTender returns the events of a tender, newest first.
func (s *HistoryService) ListForTender(ctx context.Context, tenderID string) ([]models.TenderEvent, error) {
	events, err := s.repo.ListByTender(ctx, tenderID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load tender history")
	}
	if events == nil {
		events = []models.TenderEvent{}
	}
	return events, nil
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, actor *models.Actor, action, resource, resourceID string, values interface{}) {
	if audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: stringPtr(resourceID),
		UserAgent:  "marches-api",
	}
	if actor != nil {
		entry.UserID = stringPtr(actor.UserID)
		entry.IPAddress = actor.IP
	}
	if values != nil {
		if raw, err := json.Marshal(values); err == nil {
			entry.NewValues = raw
		}
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to write audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
