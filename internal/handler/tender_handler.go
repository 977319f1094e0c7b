package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/middleware"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/service"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/response"
)

type tenderService interface {
	Get(ctx context.Context, id string, actor *models.Actor) (*dto.TenderSummary, error)
	List(ctx context.Context, query dto.TenderListQuery, actor *models.Actor) ([]dto.TenderSummary, *models.Pagination, error)
	Stats(ctx context.Context, actor *models.Actor) (*models.TenderStats, bool, error)
	Export(ctx context.Context, query dto.TenderExportQuery, actor *models.Actor) (*service.ExportFile, error)
	Select(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error)
	AcceptIntake(ctx context.Context, id string, req dto.AcceptIntakeRequest, actor *models.Actor) (*dto.TransitionResult, error)
	RejectIntake(ctx context.Context, id string, req dto.RejectIntakeRequest, actor *models.Actor) (*dto.TransitionResult, error)
	Promote(ctx context.Context, id string, req dto.PromoteRequest, actor *models.Actor) (*dto.TransitionResult, error)
	DirectorAccept(ctx context.Context, id string, req dto.DirectorAcceptRequest, actor *models.Actor) (*dto.TransitionResult, error)
	DirectorRefuse(ctx context.Context, id string, req dto.DirectorRefuseRequest, actor *models.Actor) (*dto.TransitionResult, error)
	Cancel(ctx context.Context, id string, req dto.CancelRequest, actor *models.Actor) (*dto.TransitionResult, error)
}

type tenderHistory interface {
	ListForTender(ctx context.Context, tenderID string) ([]models.TenderEvent, error)
}

type tenderDossiers interface {
	ListForTender(ctx context.Context, tenderID string) ([]models.Dossier, error)
}

// TenderHandler exposes the tender lifecycle.
type TenderHandler struct {
	service  tenderService
	history  tenderHistory
	dossiers tenderDossiers
}

// NewTenderHandler constructs a TenderHandler.
func NewTenderHandler(svc tenderService, history tenderHistory, dossiers tenderDossiers) *TenderHandler {
	return &TenderHandler{service: svc, history: history, dossiers: dossiers}
}

// List godoc
// @Summary List tenders
// @Description Paginated tenders for one role view
// @Tags Tenders
// @Produce json
// @Param view query string false "public|selection|en_cours|rejetee|annulee|terminee|decision_queue"
// @Param search query string false "Reference or subject"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tenders [get]
func (h *TenderHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.TenderListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ResponseMeta(c))
}

// Stats godoc
// @Summary Tender statistics
// @Tags Tenders
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /tenders/stats [get]
func (h *TenderHandler) Stats(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	stats, hit, err := h.service.Stats(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ResponseMeta(c))
}

// Export godoc
// @Summary Export a tender view
// @Tags Tenders
// @Produce text/csv
// @Produce application/pdf
// @Param view query string false "View"
// @Param format query string false "csv|pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /tenders/export [get]
func (h *TenderHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.TenderExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}

// Get godoc
// @Summary Get tender
// @Tags Tenders
// @Produce json
// @Param id path string true "Tender ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tenders/{id} [get]
func (h *TenderHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	tender, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tender, nil)
}

// History godoc
// @Summary Tender history
// @Tags Tenders
// @Produce json
// @Param id path string true "Tender ID"
// @Success 200 {object} response.Envelope
// @Router /tenders/{id}/history [get]
func (h *TenderHandler) History(c *gin.Context) {
	events, err := h.history.ListForTender(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Dossiers godoc
// @Summary Tender dossiers with progress
// @Tags Tenders
// @Produce json
// @Param id path string true "Tender ID"
// @Success 200 {object} response.Envelope
// @Router /tenders/{id}/dossiers [get]
func (h *TenderHandler) Dossiers(c *gin.Context) {
	dossiers, err := h.dossiers.ListForTender(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dossiers, nil)
}

// Select godoc
// @Summary Put a tender in the intake selection
// @Tags Tenders
// @Produce json
// @Param id path string true "Tender ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenders/{id}/select [post]
func (h *TenderHandler) Select(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.Select(ctx, id, actor)
	})
}

// Accept godoc
// @Summary Accept a tender at intake
// @Tags Tenders
// @Accept json
// @Produce json
// @Param id path string true "Tender ID"
// @Param payload body dto.AcceptIntakeRequest true "Importance"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenders/{id}/accept [post]
func (h *TenderHandler) Accept(c *gin.Context) {
	var req dto.AcceptIntakeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.AcceptIntake(ctx, id, req, actor)
	})
}

// Reject godoc
// @Summary Reject a tender at intake
// @Tags Tenders
// @Accept json
// @Produce json
// @Param id path string true "Tender ID"
// @Param payload body dto.RejectIntakeRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /tenders/{id}/reject [post]
func (h *TenderHandler) Reject(c *gin.Context) {
	var req dto.RejectIntakeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.RejectIntake(ctx, id, req, actor)
	})
}

// Promote godoc
// @Summary Send a tender to the director
// @Description Multipart form with importance and optional files (zip archives are extracted)
// @Tags Tenders
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Tender ID"
// @Param importance formData string true "Importance"
// @Param files formData file false "Financier files"
// @Success 200 {object} response.Envelope
// @Router /tenders/{id}/promote [post]
func (h *TenderHandler) Promote(c *gin.Context) {
	var req dto.PromoteRequest
	release := func() {}
	if form, err := c.MultipartForm(); err == nil {
		if values := form.Value["importance"]; len(values) > 0 {
			req.Importance = values[0]
		}
		files, closeFiles, err := openUploads(form.File["files"])
		if err != nil {
			response.Error(c, appErrors.Internal(err, "failed to read uploaded files"))
			return
		}
		req.Files = files
		release = closeFiles
	} else if !bindOptionalJSON(c, &req) {
		return
	}
	defer release()

	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.Promote(ctx, id, req, actor)
	})
}

// DecisionAccept godoc
// @Summary Director approval
// @Tags Tenders
// @Accept json
// @Produce json
// @Param id path string true "Tender ID"
// @Param payload body dto.DirectorAcceptRequest false "Comment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenders/{id}/decision/accept [post]
func (h *TenderHandler) DecisionAccept(c *gin.Context) {
	var req dto.DirectorAcceptRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.DirectorAccept(ctx, id, req, actor)
	})
}

// DecisionRefuse godoc
// @Summary Director refusal
// @Tags Tenders
// @Accept json
// @Produce json
// @Param id path string true "Tender ID"
// @Param payload body dto.DirectorRefuseRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenders/{id}/decision/refuse [post]
func (h *TenderHandler) DecisionRefuse(c *gin.Context) {
	var req dto.DirectorRefuseRequest
	if !bindJSON(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.DirectorRefuse(ctx, id, req, actor)
	})
}

// Cancel godoc
// @Summary Cancel a tender
// @Tags Tenders
// @Accept json
// @Produce json
// @Param id path string true "Tender ID"
// @Param payload body dto.CancelRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /tenders/{id}/cancel [post]
func (h *TenderHandler) Cancel(c *gin.Context) {
	var req dto.CancelRequest
	if !bindJSON(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, id string, actor *models.Actor) (*dto.TransitionResult, error) {
		return h.service.Cancel(ctx, id, req, actor)
	})
}

func (h *TenderHandler) transition(c *gin.Context, apply func(context.Context, string, *models.Actor) (*dto.TransitionResult, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	result, err := apply(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
