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

const notificationColumns = `id, recipient_type, recipient_id, type, data, read_at, pushed_at, push_attempts, last_push_error, created_at`

// NotificationRepository persists notifications and their push state.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts one notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_type, recipient_id, type, data, read_at, pushed_at, push_attempts, last_push_error, created_at)
	VALUES (:id, :recipient_type, :recipient_id, :type, :data, :read_at, :pushed_at, :push_attempts, :last_push_error, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetByID fetches one notification.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

// ListForRecipient returns a page of a recipient's notifications, newest first.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := ` WHERE recipient_type = $1 AND recipient_id = $2`
	if filter.UnreadOnly {
		where += ` AND read_at IS NULL`
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf("SELECT %s FROM notifications%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		notificationColumns, where, pageSize, (page-1)*pageSize)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, filter.RecipientType, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications"+where, filter.RecipientType, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// UnreadCount counts unread notifications of a recipient.
func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientType, recipientID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notifications WHERE recipient_type = $1 AND recipient_id = $2 AND read_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, recipientType, recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead stamps read_at on a notification owned by the recipient. It returns
// sql.ErrNoRows when the notification does not exist or belongs to someone else.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientType, recipientID string, at time.Time) error {
	const query = `UPDATE notifications SET read_at = COALESCE(read_at, $4) WHERE id = $1 AND recipient_type = $2 AND recipient_id = $3`
	res, err := r.db.ExecContext(ctx, query, id, recipientType, recipientID, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead stamps every unread notification of a recipient.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientType, recipientID string, at time.Time) (int64, error) {
	const query = `UPDATE notifications SET read_at = $3 WHERE recipient_type = $1 AND recipient_id = $2 AND read_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, recipientType, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check read rows: %w", err)
	}
	return affected, nil
}

// MarkPushed records a successful push.
func (r *NotificationRepository) MarkPushed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notifications SET pushed_at = $2, push_attempts = push_attempts + 1, last_push_error = NULL WHERE id = $1 AND pushed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark notification pushed: %w", err)
	}
	return nil
}

// RecordPushFailure counts a failed push attempt.
func (r *NotificationRepository) RecordPushFailure(ctx context.Context, id, reason string) error {
	const query = `UPDATE notifications SET push_attempts = push_attempts + 1, last_push_error = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("record push failure: %w", err)
	}
	return nil
}

// ListUnpushed returns the oldest notifications still waiting for a push.
func (r *NotificationRepository) ListUnpushed(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf("SELECT %s FROM notifications WHERE pushed_at IS NULL ORDER BY created_at LIMIT %d", notificationColumns, limit)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list unpushed notifications: %w", err)
	}
	return items, nil
}
