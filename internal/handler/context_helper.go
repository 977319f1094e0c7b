package handler

import (
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/middleware"
	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/response"
)

func actorFromContext(c *gin.Context) (*models.Actor, bool) {
	actor := middleware.Actor(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return actor, true
}

// bindOptionalJSON accepts an empty body for endpoints whose payload is optional.
func bindOptionalJSON(c *gin.Context, dest interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}

// openUploads opens the multipart files. The returned release
// func closes them and must be called once the service is done.
func openUploads(headers []*multipart.FileHeader) ([]dto.UploadFile, func(), error) {
	files := make([]dto.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	release := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			release()
			return nil, func() {}, err
		}
		opened = append(opened, f)
		files = append(files, dto.UploadFile{Filename: h.Filename, Size: h.Size, Content: f})
	}
	return files, release, nil
}

func singleUpload(c *gin.Context, field string) (dto.UploadFile, func(), bool) {
	header, err := c.FormFile(field)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, field+" is required"))
		return dto.UploadFile{}, func() {}, false
	}
	files, release, err := openUploads([]*multipart.FileHeader{header})
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read upload"))
		return dto.UploadFile{}, func() {}, false
	}
	return files[0], release, true
}
