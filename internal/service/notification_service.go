package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/jobs"
)

// NotificationPushJob is the queue job type carrying a notification id.
const NotificationPushJob = "notification.push"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	ListForRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	UnreadCount(ctx context.Context, recipientType, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientType, recipientID string, at time.Time) error
	MarkAllRead(ctx context.Context, recipientType, recipientID string, at time.Time) (int64, error)
	MarkPushed(ctx context.Context, id string, at time.Time) error
	RecordPushFailure(ctx context.Context, id, reason string) error
	ListUnpushed(ctx context.Context, limit int) ([]models.Notification, error)
}

type recipientDirectory interface {
	ListActiveByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error)
}

// Publisher pushes an event to a live channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationConfig selects the push mode.
type NotificationConfig struct {
	ChannelPrefix         string
	EmployeeChannelPrefix string
	OutboxEnabled         bool
	RecoverBatch          int
}

// NotificationService persists notifications and pushes them to recipients.
type NotificationService struct {
	repo      notificationStore
	users     recipientDirectory
	publisher Publisher
	queue     jobEnqueuer
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       NotificationConfig
	now       func() time.Time
}

// NewNotificationService constructs a NotificationService. Without a queue the
// service pushes inline even when the outbox is enabled.
func NewNotificationService(repo notificationStore, users recipientDirectory, publisher Publisher, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "user."
	}
	if cfg.EmployeeChannelPrefix == "" {
		cfg.EmployeeChannelPrefix = "employee."
	}
	if cfg.RecoverBatch <= 0 {
		cfg.RecoverBatch = 500
	}
	return &NotificationService{
		repo:      repo,
		users:     users,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UseQueue attaches the outbox dispatcher.
func (s *NotificationService) UseQueue(queue jobEnqueuer) {
	s.queue = queue
}

func (s *NotificationService) outbox() bool {
	return s.cfg.OutboxEnabled && s.queue != nil
}

// NotifyRoles sends one notification to every active user holding any of roles.
// A failure for one recipient is logged and does not stop the others.
func (s *NotificationService) NotifyRoles(ctx context.Context, roles []models.UserRole, input models.NewNotification) ([]models.Notification, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	users, err := s.users.ListActiveByRoles(ctx, roles)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to resolve notification recipients")
	}
	data, err := json.Marshal(input.Payload)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to encode notification payload")
	}

	seen := make(map[string]struct{}, len(users))
	sent := make([]models.Notification, 0, len(users))
	for _, user := range users {
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		n, ok := s.persist(ctx, models.RecipientUser, user.ID, input.Type, data)
		if !ok {
			continue
		}
		s.deliver(ctx, n)
		sent = append(sent, *n)
	}
	return sent, nil
}

// NotifyEmployee sends one notification to an employee.
func (s *NotificationService) NotifyEmployee(ctx context.Context, employeeID string, input models.NewNotification) (*models.Notification, error) {
	data, err := json.Marshal(input.Payload)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to encode notification payload")
	}
	n, ok := s.persist(ctx, models.RecipientEmployee, employeeID, input.Type, data)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInternal, "failed to store notification")
	}
	s.deliver(ctx, n)
	return n, nil
}

func (s *NotificationService) persist(ctx context.Context, recipientType, recipientID, kind string, data []byte) (*models.Notification, bool) {
	n := &models.Notification{
		RecipientType: recipientType,
		RecipientID:   recipientID,
		Type:          kind,
		Data:          types.JSONText(data),
		CreatedAt:     s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Warn("failed to store notification",
			zap.String("recipient_type", recipientType),
			zap.String("recipient_id", recipientID),
			zap.String("type", kind),
			zap.Error(err))
		return nil, false
	}
	return n, true
}

func (s *NotificationService) deliver(ctx context.Context, n *models.Notification) {
	if s.outbox() {
		if err := s.queue.Enqueue(jobs.Job{ID: n.ID, Type: NotificationPushJob, Payload: n.ID, Enqueued: s.now()}); err != nil {
			// the row stays unpushed and RecoverPending picks it up
			s.logger.Warn("failed to enqueue notification push", zap.String("notification_id", n.ID), zap.Error(err))
		}
		return
	}
	if err := s.push(ctx, n); err != nil {
		s.logger.Warn("notification push failed", zap.String("notification_id", n.ID), zap.String("recipient_id", n.RecipientID), zap.Error(err))
	}
}

// push publishes n and records the outcome on the row.
func (s *NotificationService) push(ctx context.Context, n *models.Notification) error {
	if s.publisher == nil {
		return errors.New("no publisher configured")
	}
	err := s.publisher.Publish(ctx, s.channel(n), models.NotificationEvent, n)
	s.metrics.RecordNotificationPush(err == nil)
	if err != nil {
		if recErr := s.repo.RecordPushFailure(ctx, n.ID, err.Error()); recErr != nil {
			s.logger.Warn("failed to record push failure", zap.String("notification_id", n.ID), zap.Error(recErr))
		}
		return err
	}
	at := s.now()
	if err := s.repo.MarkPushed(ctx, n.ID, at); err != nil {
		s.logger.Warn("failed to mark notification pushed", zap.String("notification_id", n.ID), zap.Error(err))
	}
	n.PushedAt = &at
	return nil
}

func (s *NotificationService) channel(n *models.Notification) string {
	if n.RecipientType == models.RecipientEmployee {
		return s.cfg.EmployeeChannelPrefix + n.RecipientID
	}
	return s.cfg.ChannelPrefix + n.RecipientID
}

// HandlePushJob is the outbox queue handler. Returning an error makes the queue retry.
func (s *NotificationService) HandlePushJob(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok || id == "" {
		return fmt.Errorf("notification job %s: unexpected payload %T", job.ID, job.Payload)
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("dropping push for missing notification", zap.String("notification_id", id))
			return nil
		}
		return err
	}
	if n.PushedAt != nil {
		return nil
	}
	return s.push(ctx, n)
}

// RecoverPending re-enqueues notifications that were never pushed.
func (s *NotificationService) RecoverPending(ctx context.Context) (int, error) {
	if !s.outbox() {
		return 0, nil
	}
	pending, err := s.repo.ListUnpushed(ctx, s.cfg.RecoverBatch)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to list pending notifications")
	}
	queued := 0
	for _, n := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: n.ID, Type: NotificationPushJob, Payload: n.ID, Enqueued: s.now()}); err != nil {
			s.logger.Warn("failed to re-enqueue notification", zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("re-enqueued pending notifications", zap.Int("count", queued))
	}
	return queued, nil
}

// ListForUser returns a page of the actor's inbox.
func (s *NotificationService) ListForUser(ctx context.Context, actor *models.Actor, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	pagination := models.Pagination{Page: page, PageSize: pageSize}
	pagination.Normalize()
	if pagination.PageSize > 100 {
		pagination.PageSize = 100
	}
	items, total, err := s.repo.ListForRecipient(ctx, models.NotificationFilter{
		RecipientType: models.RecipientUser,
		RecipientID:   actor.UserID,
		UnreadOnly:    unreadOnly,
		Page:          pagination.Page,
		PageSize:      pagination.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	pagination.TotalCount = total
	return items, &pagination, nil
}

// UnreadCount counts the actor's unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, actor *models.Actor) (int, error) {
	if actor == nil {
		return 0, appErrors.ErrUnauthorized
	}
	count, err := s.repo.UnreadCount(ctx, models.RecipientUser, actor.UserID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one of the actor's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string, actor *models.Actor) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkRead(ctx, id, models.RecipientUser, actor.UserID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Internal(err, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of the actor as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *models.Actor) (int64, error) {
	if actor == nil {
		return 0, appErrors.ErrUnauthorized
	}
	n, err := s.repo.MarkAllRead(ctx, models.RecipientUser, actor.UserID, s.now())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to mark notifications read")
	}
	return n, nil
}
