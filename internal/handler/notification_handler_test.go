package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/models"
)

type fakeInbox struct {
	unreadOnly bool
	page       int
	pageSize   int
	userID     string
}

func (f *fakeInbox) ListForUser(ctx context.Context, actor *models.Actor, unreadOnly bool, page, pageSize int) ([]models.Notification, *models.Pagination, error) {
	f.unreadOnly, f.page, f.pageSize, f.userID = unreadOnly, page, pageSize, actor.UserID
	return []models.Notification{}, &models.Pagination{Page: page, PageSize: pageSize}, nil
}

func (f *fakeInbox) UnreadCount(ctx context.Context, actor *models.Actor) (int, error) {
	return 3, nil
}

func (f *fakeInbox) MarkRead(ctx context.Context, id string, actor *models.Actor) error {
	return nil
}

func (f *fakeInbox) MarkAllRead(ctx context.Context, actor *models.Actor) (int64, error) {
	return 3, nil
}

func TestNotificationHandlerListParsesQuery(t *testing.T) {
	inbox := &fakeInbox{}
	h := NewNotificationHandler(inbox)
	c, rec := newTestContext(http.MethodGet, "/notifications?unread=true&page=3", nil, models.RoleDirection)

	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, inbox.unreadOnly)
	assert.Equal(t, 3, inbox.page)
	assert.Equal(t, 20, inbox.pageSize)
	assert.Equal(t, "user-1", inbox.userID)
}

func TestNotificationHandlerCounts(t *testing.T) {
	h := NewNotificationHandler(&fakeInbox{})

	c, rec := newTestContext(http.MethodGet, "/notifications/unread-count", nil, models.RoleAdmin)
	h.UnreadCount(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":3}`, string(decodeEnvelope(t, rec).Data))

	c, rec = newTestContext(http.MethodPost, "/notifications/n1/read", nil, models.RoleAdmin)
	h.MarkRead(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
