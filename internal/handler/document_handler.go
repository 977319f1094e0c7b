package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/response"
)

type documentService interface {
	Upload(ctx context.Context, req dto.UploadDocumentRequest, file dto.UploadFile, actor *models.Actor) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Renew(ctx context.Context, id string, req dto.RenewDocumentRequest, file dto.UploadFile, actor *models.Actor) (*models.Document, error)
	GetDownloadURL(ctx context.Context, id string) (*models.DocumentDownload, error)
	Download(ctx context.Context, id, token string) (*models.Document, *os.File, error)
}

// DocumentHandler serves the document registers.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs a DocumentHandler.
func NewDocumentHandler(svc documentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

// Upload godoc
// @Summary Upload a document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Param kind formData string false "document|methodology|reference"
// @Param title formData string false "Title"
// @Param type formData string false "Type"
// @Param periodicite formData string false "Renewal period"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UploadDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid document metadata"))
		return
	}
	file, release, ok := singleUpload(c, "file")
	if !ok {
		return
	}
	defer release()

	doc, err := h.service.Upload(c.Request.Context(), req, file, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// List godoc
// @Summary List documents
// @Tags Documents
// @Produce json
// @Param kind query string false "Kind"
// @Param type query string false "Type"
// @Param archived query bool false "Include archived versions"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.service.List(c.Request.Context(), models.DocumentFilter{
		Kind:            models.DocumentKind(c.Query("kind")),
		Type:            c.Query("type"),
		IncludeArchived: queryBool(c, "archived"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, nil)
}

// Get godoc
// @Summary Get a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Renew godoc
// @Summary Renew a document
// @Description Stores a new version and archives the current one
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Document ID"
// @Param file formData file true "File"
// @Param title formData string false "New title"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/renew [post]
func (h *DocumentHandler) Renew(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RenewDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid document metadata"))
		return
	}
	file, release, ok := singleUpload(c, "file")
	if !ok {
		return
	}
	defer release()

	doc, err := h.service.Renew(c.Request.Context(), c.Param("id"), req, file, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// DownloadURL godoc
// @Summary Signed download link
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/download-url [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	link, err := h.service.GetDownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a document
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	doc, f, err := h.service.Download(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.FileName))
	c.Header("Content-Type", doc.MimeType)
	http.ServeContent(c.Writer, c.Request, doc.FileName, doc.CreatedAt, f)
}
