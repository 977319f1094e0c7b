package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/jobs"
)

type memNotificationStore struct {
	mu      sync.Mutex
	seq     int
	order   []string
	items   map[string]*models.Notification
	failFor map[string]bool
}

func newMemNotificationStore() *memNotificationStore {
	return &memNotificationStore{items: map[string]*models.Notification{}, failFor: map[string]bool{}}
}

func (s *memNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[n.RecipientID] {
		return errors.New("insert failed")
	}
	s.seq++
	n.ID = fmt.Sprintf("n-%d", s.seq)
	clone := *n
	s.items[n.ID] = &clone
	s.order = append(s.order, n.ID)
	return nil
}

func (s *memNotificationStore) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *n
	return &clone, nil
}

func (s *memNotificationStore) ListForRecipient(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, id := range s.order {
		n := s.items[id]
		if n.RecipientType != filter.RecipientType || n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.UnreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (s *memNotificationStore) UnreadCount(ctx context.Context, recipientType, recipientID string) (int, error) {
	items, _, err := s.ListForRecipient(ctx, models.NotificationFilter{RecipientType: recipientType, RecipientID: recipientID, UnreadOnly: true})
	return len(items), err
}

func (s *memNotificationStore) MarkRead(ctx context.Context, id, recipientType, recipientID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.RecipientType != recipientType || n.RecipientID != recipientID {
		return sql.ErrNoRows
	}
	n.ReadAt = &at
	return nil
}

func (s *memNotificationStore) MarkAllRead(ctx context.Context, recipientType, recipientID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.items {
		if n.RecipientType == recipientType && n.RecipientID == recipientID && n.ReadAt == nil {
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (s *memNotificationStore) MarkPushed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.items[id]; ok {
		n.PushedAt = &at
	}
	return nil
}

func (s *memNotificationStore) RecordPushFailure(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.items[id]; ok {
		n.PushAttempts++
		n.LastPushError = &reason
	}
	return nil
}

func (s *memNotificationStore) ListUnpushed(ctx context.Context, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, id := range s.order {
		if n := s.items[id]; n.PushedAt == nil && len(out) < limit {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *memNotificationStore) all() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

func (s *memNotificationStore) recipients() []string {
	var ids []string
	for _, n := range s.all() {
		ids = append(ids, n.RecipientID)
	}
	return ids
}

type userDirectoryStub struct {
	users []models.User
	err   error
}

func (s *userDirectoryStub) ListActiveByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.User
	for _, u := range s.users {
		for _, r := range roles {
			if u.Role == r && u.Active {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

type publisherStub struct {
	mu        sync.Mutex
	failFor   map[string]bool
	failAll   bool
	published []string
}

func (p *publisherStub) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll {
		return errors.New("redis unavailable")
	}
	for suffix := range p.failFor {
		if strings.HasSuffix(channel, suffix) {
			return errors.New("redis unavailable")
		}
	}
	p.published = append(p.published, channel)
	return nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func threeTechnicians() *userDirectoryStub {
	return &userDirectoryStub{users: []models.User{
		{ID: "u1", Role: models.RoleEtudesTechniques, Active: true},
		{ID: "u2", Role: models.RoleEtudesTechniques, Active: true},
		{ID: "u3", Role: models.RoleEtudesTechniques, Active: true},
		{ID: "u4", Role: models.RoleEtudesTechniques, Active: false},
	}}
}

func TestNotifyRolesIsolatesPushFailures(t *testing.T) {
	store := newMemNotificationStore()
	publisher := &publisherStub{failFor: map[string]bool{"u2": true}}
	metrics := NewMetricsService()
	svc := NewNotificationService(store, threeTechnicians(), publisher, metrics, zap.NewNop(), NotificationConfig{})

	sent, err := svc.NotifyRoles(context.Background(), []models.UserRole{models.RoleEtudesTechniques}, models.NewNotification{
		Type:    models.NotificationMarcheDecision,
		Payload: models.NotificationPayload{Titre: "Marché accepté", Priority: models.PriorityUrgent},
	})
	require.NoError(t, err)
	assert.Len(t, sent, 3)

	all := store.all()
	require.Len(t, all, 3)
	for _, n := range all {
		if n.RecipientID == "u2" {
			assert.Nil(t, n.PushedAt)
			assert.Equal(t, 1, n.PushAttempts)
			require.NotNil(t, n.LastPushError)
			continue
		}
		assert.NotNil(t, n.PushedAt, n.RecipientID)
	}
	assert.ElementsMatch(t, []string{"user.u1", "user.u3"}, publisher.published)
}

func TestNotifyRolesSkipsFailedInsert(t *testing.T) {
	store := newMemNotificationStore()
	store.failFor["u1"] = true
	svc := NewNotificationService(store, threeTechnicians(), &publisherStub{}, nil, nil, NotificationConfig{})

	sent, err := svc.NotifyRoles(context.Background(), []models.UserRole{models.RoleEtudesTechniques}, models.NewNotification{Type: models.NotificationMarcheDecision})
	require.NoError(t, err)
	assert.Len(t, sent, 2)
	assert.ElementsMatch(t, []string{"u2", "u3"}, store.recipients())
}

func TestNotifyRolesDeduplicatesUsers(t *testing.T) {
	users := &userDirectoryStub{users: []models.User{
		{ID: "u1", Role: models.RoleDirection, Active: true},
		{ID: "u1", Role: models.RoleDirection, Active: true},
	}}
	store := newMemNotificationStore()
	svc := NewNotificationService(store, users, &publisherStub{}, nil, nil, NotificationConfig{})

	sent, err := svc.NotifyRoles(context.Background(), []models.UserRole{models.RoleDirection}, models.NewNotification{Type: models.NotificationMarcheDecision})
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestNotifyEmployeeUsesEmployeeChannel(t *testing.T) {
	store := newMemNotificationStore()
	publisher := &publisherStub{}
	svc := NewNotificationService(store, nil, publisher, nil, nil, NotificationConfig{})

	n, err := svc.NotifyEmployee(context.Background(), "emp-9", models.NewNotification{Type: models.NotificationTacheAffectation})
	require.NoError(t, err)
	assert.Equal(t, models.RecipientEmployee, n.RecipientType)
	assert.Equal(t, []string{"employee.emp-9"}, publisher.published)
}

func TestNotificationOutboxRetryRecordsAttempts(t *testing.T) {
	store := newMemNotificationStore()
	publisher := &publisherStub{failAll: true}
	queue := &queueStub{}
	svc := NewNotificationService(store, threeTechnicians(), publisher, nil, zap.NewNop(), NotificationConfig{OutboxEnabled: true})
	svc.UseQueue(queue)
	ctx := context.Background()

	_, err := svc.NotifyRoles(ctx, []models.UserRole{models.RoleEtudesTechniques}, models.NewNotification{Type: models.NotificationMarcheDecision})
	require.NoError(t, err)
	require.Len(t, queue.jobs, 3)
	assert.Empty(t, publisher.published)

	job := queue.jobs[0]
	assert.Equal(t, NotificationPushJob, job.Type)
	require.Error(t, svc.HandlePushJob(ctx, job))
	require.Error(t, svc.HandlePushJob(ctx, job))

	n, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n.PushAttempts)
	assert.Nil(t, n.PushedAt)

	publisher.failAll = false
	require.NoError(t, svc.HandlePushJob(ctx, job))
	n, _ = store.GetByID(ctx, job.ID)
	assert.NotNil(t, n.PushedAt)

	// already pushed rows are not published twice
	require.NoError(t, svc.HandlePushJob(ctx, job))
	assert.Len(t, publisher.published, 1)
}

func TestNotificationHandlePushJobDropsMissingRow(t *testing.T) {
	svc := NewNotificationService(newMemNotificationStore(), nil, &publisherStub{}, nil, nil, NotificationConfig{})
	assert.NoError(t, svc.HandlePushJob(context.Background(), jobs.Job{ID: "gone", Payload: "gone"}))
	assert.Error(t, svc.HandlePushJob(context.Background(), jobs.Job{ID: "bad", Payload: 42}))
}

func TestNotificationRecoverPending(t *testing.T) {
	store := newMemNotificationStore()
	queue := &queueStub{err: errors.New("queue full")}
	svc := NewNotificationService(store, threeTechnicians(), &publisherStub{}, nil, nil, NotificationConfig{OutboxEnabled: true})
	svc.UseQueue(queue)
	ctx := context.Background()

	_, err := svc.NotifyRoles(ctx, []models.UserRole{models.RoleEtudesTechniques}, models.NewNotification{Type: models.NotificationMarcheDecision})
	require.NoError(t, err)
	assert.Len(t, store.all(), 3)

	queue.err = nil
	queued, err := svc.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, queued)
	assert.Len(t, queue.jobs, 3)
}

func TestNotificationInbox(t *testing.T) {
	store := newMemNotificationStore()
	svc := NewNotificationService(store, threeTechnicians(), &publisherStub{}, nil, nil, NotificationConfig{})
	ctx := context.Background()
	actor := &models.Actor{UserID: "u1", Role: models.RoleEtudesTechniques}

	for i := 0; i < 2; i++ {
		_, err := svc.NotifyRoles(ctx, []models.UserRole{models.RoleEtudesTechniques}, models.NewNotification{Type: models.NotificationMarcheDecision})
		require.NoError(t, err)
	}

	items, page, err := svc.ListForUser(ctx, actor, true, 1, 500)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 100, page.PageSize)

	count, err := svc.UnreadCount(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, svc.MarkRead(ctx, items[0].ID, actor))
	err = svc.MarkRead(ctx, items[0].ID, &models.Actor{UserID: "u2"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	marked, err := svc.MarkAllRead(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	count, err = svc.UnreadCount(ctx, actor)
	require.NoError(t, err)
	assert.Zero(t, count)
}
