package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type auditRecorder struct {
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newRouter(tokens tokenStub, capability models.Capability, status int, audit *auditRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/tenders/:id/accept", JWT(tokens), RequireCapability(capability), Audit(audit, nil, models.AuditActionTransition, "tender"), func(c *gin.Context) {
		actor := Actor(c)
		c.JSON(status, gin.H{"user": actor.UserID, "role": actor.Role})
	})
	return r
}

func serve(r *gin.Engine, token string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tenders/t1/accept", nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTRejectsMissingOrMalformedHeader(t *testing.T) {
	r := newRouter(tokenStub{}, models.CapTenderIntake, http.StatusOK, &auditRecorder{})

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer unknown").Code)
}

func TestRequireCapabilityFollowsRoleTable(t *testing.T) {
	tokens := tokenStub{
		"marketing": {UserID: "u1", Role: models.RoleMarchesMarketing},
		"etudes":    {UserID: "u2", Role: models.RoleEtudesTechniques},
	}
	audit := &auditRecorder{}
	r := newRouter(tokens, models.CapTenderIntake, http.StatusOK, audit)

	rec := serve(r, "Bearer marketing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user":"u1"`)

	assert.Equal(t, http.StatusForbidden, serve(r, "Bearer etudes").Code)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "u1", *audit.logs[0].UserID)
	assert.Equal(t, "t1", *audit.logs[0].ResourceID)
	assert.Equal(t, models.AuditActionTransition, audit.logs[0].Action)
}

func TestAuditSkipsFailedRequests(t *testing.T) {
	tokens := tokenStub{"admin": {UserID: "u1", Role: models.RoleAdmin}}
	audit := &auditRecorder{}
	r := newRouter(tokens, models.CapTenderIntake, http.StatusConflict, audit)

	assert.Equal(t, http.StatusConflict, serve(r, "Bearer admin").Code)
	assert.Empty(t, audit.logs)
}

func TestResponseMetaCarriesCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	SetCacheHit(c, true)
	meta := ResponseMeta(c)

	assert.Equal(t, true, meta["cache_hit"])
}
