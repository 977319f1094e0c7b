package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/service"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

type fakeTenderSrv struct {
	err       error
	statsHit  bool
	lastActor *models.Actor
	lastID    string
	refuse    dto.DirectorRefuseRequest
	reject    dto.RejectIntakeRequest
	promote   dto.PromoteRequest
	fileData  map[string]string
	listQuery dto.TenderListQuery
}

func (f *fakeTenderSrv) result(id string, actor *models.Actor) (*dto.TransitionResult, error) {
	f.lastID = id
	f.lastActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &dto.TransitionResult{Tender: &models.Tender{ID: id}}, nil
}

func (f *fakeTenderSrv) Get(ctx context.Context, id string, actor *models.Actor) (*dto.TenderSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.TenderSummary{Tender: models.Tender{ID: id}, Urgency: "normal"}, nil
}

func (f *fakeTenderSrv) List(ctx context.Context, query dto.TenderListQuery, actor *models.Actor) ([]dto.TenderSummary, *models.Pagination, error) {
	f.listQuery = query
	return []dto.TenderSummary{{Tender: models.Tender{ID: "t1"}}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (f *fakeTenderSrv) Stats(ctx context.Context, actor *models.Actor) (*models.TenderStats, bool, error) {
	return &models.TenderStats{Counts: map[models.TenderView]int{models.ViewPublic: 4}}, f.statsHit, nil
}

func (f *fakeTenderSrv) Export(ctx context.Context, query dto.TenderExportQuery, actor *models.Actor) (*service.ExportFile, error) {
	return &service.ExportFile{Filename: "marches_public.csv", ContentType: "text/csv; charset=utf-8", Payload: []byte("a;b\n")}, nil
}

func (f *fakeTenderSrv) Select(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
	return f.result(id, actor)
}

func (f *fakeTenderSrv) AcceptIntake(ctx context.Context, id string, req dto.AcceptIntakeRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	return f.result(id, actor)
}

func (f *fakeTenderSrv) RejectIntake(ctx context.Context, id string, req dto.RejectIntakeRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	f.reject = req
	return f.result(id, actor)
}

func (f *fakeTenderSrv) Promote(ctx context.Context, id string, req dto.PromoteRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	f.promote = req
	f.fileData = map[string]string{}
	for _, file := range req.Files {
		raw, _ := io.ReadAll(file.Content)
		f.fileData[file.Filename] = string(raw)
	}
	return f.result(id, actor)
}

func (f *fakeTenderSrv) DirectorAccept(ctx context.Context, id string, req dto.DirectorAcceptRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	return f.result(id, actor)
}

func (f *fakeTenderSrv) DirectorRefuse(ctx context.Context, id string, req dto.DirectorRefuseRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	f.refuse = req
	return f.result(id, actor)
}

func (f *fakeTenderSrv) Cancel(ctx context.Context, id string, req dto.CancelRequest, actor *models.Actor) (*dto.TransitionResult, error) {
	return f.result(id, actor)
}

func TestTenderHandlerRequiresClaims(t *testing.T) {
	h := NewTenderHandler(&fakeTenderSrv{}, nil, nil)
	c, rec := newTestContext(http.MethodGet, "/tenders", nil, "")

	h.List(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenderHandlerListBindsQuery(t *testing.T) {
	srv := &fakeTenderSrv{}
	h := NewTenderHandler(srv, nil, nil)
	c, rec := newTestContext(http.MethodGet, "/tenders?view=selection&search=voirie&page=2&page_size=5", nil, models.RoleAdmin)

	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ViewSelection, srv.listQuery.View)
	assert.Equal(t, "voirie", srv.listQuery.Search)
	assert.Equal(t, 2, srv.listQuery.Page)
	assert.Equal(t, 5, srv.listQuery.PageSize)
	env := decodeEnvelope(t, rec)
	assert.EqualValues(t, 1, env.Pagination["total_count"])
}

func TestTenderHandlerStatsReportsCacheHit(t *testing.T) {
	h := NewTenderHandler(&fakeTenderSrv{statsHit: true}, nil, nil)
	c, rec := newTestContext(http.MethodGet, "/tenders/stats", nil, models.RoleDirection)

	h.Stats(c)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, string(env.Data), `"public":4`)
}

func TestTenderHandlerExportSendsAttachment(t *testing.T) {
	h := NewTenderHandler(&fakeTenderSrv{}, nil, nil)
	c, rec := newTestContext(http.MethodGet, "/tenders/export?format=csv", nil, models.RoleAdmin)

	h.Export(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="marches_public.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "a;b\n", rec.Body.String())
}

func TestTenderHandlerRefusePassesActorAndMotif(t *testing.T) {
	srv := &fakeTenderSrv{}
	h := NewTenderHandler(srv, nil, nil)
	c, rec := newTestContext(http.MethodPost, "/tenders/t1/decision/refuse", jsonBody(t, map[string]string{"motif": "Budget insuffisant"}), models.RoleDirection)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}

	h.DecisionRefuse(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", srv.lastID)
	assert.Equal(t, "Budget insuffisant", srv.refuse.Motif)
	require.NotNil(t, srv.lastActor)
	assert.Equal(t, models.RoleDirection, srv.lastActor.Role)
	assert.Equal(t, "user-1", srv.lastActor.UserID)
}

func TestTenderHandlerRefuseRejectsMalformedBody(t *testing.T) {
	srv := &fakeTenderSrv{}
	h := NewTenderHandler(srv, nil, nil)
	c, rec := newTestContext(http.MethodPost, "/tenders/t1/decision/refuse", strings.NewReader("{"), models.RoleDirection)

	h.DecisionRefuse(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, srv.lastActor)
}

func TestTenderHandlerRejectAcceptsEmptyBody(t *testing.T) {
	srv := &fakeTenderSrv{}
	h := NewTenderHandler(srv, nil, nil)
	c, rec := newTestContext(http.MethodPost, "/tenders/t1/reject", nil, models.RoleMarchesMarketing)
	c.Params = gin.Params{{Key: "id", Value: "t1"}}

	h.Reject(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, srv.reject.Motif)
}

func TestTenderHandlerMapsAlreadyDecided(t *testing.T) {
	h := NewTenderHandler(&fakeTenderSrv{err: appErrors.Clone(appErrors.ErrAlreadyDecided, "tender already decided")}, nil, nil)
	c, rec := newTestContext(http.MethodPost, "/tenders/t1/decision/accept", nil, models.RoleDirection)

	h.DecisionAccept(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, appErrors.ErrAlreadyDecided.Code, env.Error["code"])
}

func TestTenderHandlerPromoteReadsMultipart(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("importance", "ao_important"))
	for name, content := range map[string]string{"bordereau.pdf": "pdf-bytes", "detail.xls": "xls-bytes"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	srv := &fakeTenderSrv{}
	h := NewTenderHandler(srv, nil, nil)
	c, rec := newTestContext(http.MethodPost, "/tenders/t1/promote", &body, models.RoleAdmin)
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	c.Params = gin.Params{{Key: "id", Value: "t1"}}

	h.Promote(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ao_important", srv.promote.Importance)
	assert.Equal(t, map[string]string{"bordereau.pdf": "pdf-bytes", "detail.xls": "xls-bytes"}, srv.fileData)
}

func TestTenderHandlerPromoteAcceptsJSON(t *testing.T) {
	srv := &fakeTenderSrv{}
	h := NewTenderHandler(srv, nil, nil)
	c, rec := newTestContext(http.MethodPost, "/tenders/t1/promote", jsonBody(t, map[string]string{"importance": "ao_ouvert"}), models.RoleAdmin)
	c.Request.Header.Set("Content-Type", "application/json")

	h.Promote(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ao_ouvert", srv.promote.Importance)
	assert.Empty(t, srv.promote.Files)
}
