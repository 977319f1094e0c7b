package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

type fakeImporter struct {
	src models.ImportSource
}

func (f *fakeImporter) Import(ctx context.Context, src models.ImportSource, actor *models.Actor) (*models.ImportReport, error) {
	f.src = src
	return &models.ImportReport{Read: 3, Inserted: 1, InsertedRefs: []string{"C"}}, nil
}

type fakeLauncher struct {
	status string
	err    error
	wait   bool
	id     string
}

func (f *fakeLauncher) Launch(ctx context.Context, scriptID string, wait bool, actor *models.Actor) (*models.ScriptLaunch, error) {
	f.id = scriptID
	f.wait = wait
	if f.err != nil {
		return nil, f.err
	}
	return &models.ScriptLaunch{ScriptID: scriptID, Status: f.status, PID: 99}, nil
}

func (f *fakeLauncher) Progress(ctx context.Context) (*models.ScrapingProgress, error) {
	return &models.ScrapingProgress{Status: "running", Current: 5, Total: 10}, nil
}

func (f *fakeLauncher) Scripts() []string { return []string{"marches_public"} }

func TestImportHandlerPassesDeleteSource(t *testing.T) {
	importer := &fakeImporter{}
	h := NewImportHandler(importer, &fakeLauncher{})
	c, rec := newTestContext(http.MethodPost, "/imports/marches", jsonBody(t, map[string]bool{"delete_source": true}), models.RoleAdmin)

	h.Import(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, importer.src.DeleteSource)
	assert.Empty(t, importer.src.DataDir)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"inserted":1`)
}

func TestImportHandlerLaunchStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		status string
		code   int
		wait   bool
	}{
		{name: "detached", query: "", status: models.ScriptStarted, code: http.StatusAccepted},
		{name: "waited", query: "?wait=true", status: models.ScriptCompleted, code: http.StatusOK, wait: true},
		{name: "timed out", query: "?wait=1", status: models.ScriptTimeout, code: http.StatusOK, wait: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			launcher := &fakeLauncher{status: tc.status}
			h := NewImportHandler(&fakeImporter{}, launcher)
			c, rec := newTestContext(http.MethodPost, "/scripts/marches_public/launch"+tc.query, nil, models.RoleAdmin)
			c.Params = gin.Params{{Key: "id", Value: "marches_public"}}

			h.Launch(c)

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.wait, launcher.wait)
			assert.Equal(t, "marches_public", launcher.id)
		})
	}
}

func TestImportHandlerLaunchWhileRunning(t *testing.T) {
	h := NewImportHandler(&fakeImporter{}, &fakeLauncher{err: appErrors.Clone(appErrors.ErrScriptRunning, "script already running")})
	c, rec := newTestContext(http.MethodPost, "/scripts/marches_public/launch", nil, models.RoleAdmin)

	h.Launch(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, appErrors.ErrScriptRunning.Code, decodeEnvelope(t, rec).Error["code"])
}
