package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/pkg/response"
)

type tenderImporter interface {
	Import(ctx context.Context, src models.ImportSource, actor *models.Actor) (*models.ImportReport, error)
}

type scriptLauncher interface {
	Launch(ctx context.Context, scriptID string, wait bool, actor *models.Actor) (*models.ScriptLaunch, error)
	Progress(ctx context.Context) (*models.ScrapingProgress, error)
	Scripts() []string
}

// ImportHandler triggers scraper runs and the import batch.
type ImportHandler struct {
	importer tenderImporter
	scripts  scriptLauncher
}

// NewImportHandler constructs an ImportHandler.
func NewImportHandler(importer tenderImporter, scripts scriptLauncher) *ImportHandler {
	return &ImportHandler{importer: importer, scripts: scripts}
}

// Import godoc
// @Summary Import scraped tenders
// @Description Reads the latest scraper output and inserts unseen references
// @Tags Imports
// @Accept json
// @Produce json
// @Param payload body dto.ImportRequest false "Options"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /imports/marches [post]
func (h *ImportHandler) Import(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ImportRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	report, err := h.importer.Import(c.Request.Context(), models.ImportSource{DeleteSource: req.DeleteSource}, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Scripts godoc
// @Summary List launchable scripts
// @Tags Scripts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scripts [get]
func (h *ImportHandler) Scripts(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.scripts.Scripts(), nil)
}

// Launch godoc
// @Summary Launch a scraping script
// @Description Starts the script detached. With wait=true the call blocks until fresh output is imported or the wait times out.
// @Tags Scripts
// @Produce json
// @Param id path string true "Script ID"
// @Param wait query bool false "Wait for output and import it"
// @Success 202 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scripts/{id}/launch [post]
func (h *ImportHandler) Launch(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	wait := queryBool(c, "wait")
	launch, err := h.scripts.Launch(c.Request.Context(), c.Param("id"), wait, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if launch.Status == models.ScriptStarted {
		status = http.StatusAccepted
	}
	response.JSON(c, status, launch, nil)
}

// Progress godoc
// @Summary Scraping progress
// @Tags Scripts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scripts/progress [get]
func (h *ImportHandler) Progress(c *gin.Context) {
	progress, err := h.scripts.Progress(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}
