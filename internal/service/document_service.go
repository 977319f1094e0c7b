package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/storage"
)

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	Renew(ctx context.Context, oldID string, next *models.Document) error
}

type documentFiles interface {
	SaveStream(name string, r io.Reader) (int64, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
}

type urlSigner interface {
	Generate(subjectID, path string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (storage.Grant, error)
}

// DocumentConfig bounds what may be uploaded.
type DocumentConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	DownloadPrefix   string
}

// DocumentService manages the document registers and their files.
type DocumentService struct {
	repo    documentStore
	files   documentFiles
	signer  urlSigner
	audit   auditLogger
	logger  *zap.Logger
	cfg     DocumentConfig
	allowed map[string]struct{}
}

// NewDocumentService constructs a DocumentService.
func NewDocumentService(repo documentStore, files documentFiles, signer urlSigner, audit auditLogger, logger *zap.Logger, cfg DocumentConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 20 << 20
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &DocumentService{repo: repo, files: files, signer: signer, audit: audit, logger: logger, cfg: cfg, allowed: allowed}
}

// Upload validates and stores a new document.
func (s *DocumentService) Upload(ctx context.Context, req dto.UploadDocumentRequest, file dto.UploadFile, actor *models.Actor) (*models.Document, error) {
	if !actor.Can(models.CapDocuments) {
		return nil, appErrors.ErrForbidden
	}
	if req.Kind == "" {
		req.Kind = models.KindDocument
	}
	if !req.Kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "kind must be document, methodology or reference")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(file.Filename, path.Ext(file.Filename))
	}
	if title == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	}

	doc := &models.Document{
		Kind:        req.Kind,
		Title:       title,
		Type:        strings.TrimSpace(req.Type),
		Periodicite: req.Periodicite,
		UploadedBy:  actor.UserID,
	}
	if err := s.storeFile(doc, file); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		s.discard(doc.FilePath)
		return nil, appErrors.Internal(err, "failed to save document")
	}

	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionDocumentUpload, "document", doc.ID, map[string]interface{}{
		"kind":  doc.Kind,
		"title": doc.Title,
		"size":  doc.SizeBytes,
	})
	return doc, nil
}

// List returns the documents matching filter.
func (s *DocumentService) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown document kind")
	}
	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Get returns one document.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "document")
	}
	return doc, nil
}

// Renew archives id and stores file as its replacement. The archived record
// keeps its file so older versions stay downloadable.
func (s *DocumentService) Renew(ctx context.Context, id string, req dto.RenewDocumentRequest, file dto.UploadFile, actor *models.Actor) (*models.Document, error) {
	if !actor.Can(models.CapDocuments) {
		return nil, appErrors.ErrForbidden
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Archived {
		return nil, appErrors.Clone(appErrors.ErrConflict, "document already renewed")
	}

	next := &models.Document{
		Kind:        current.Kind,
		Title:       current.Title,
		Type:        current.Type,
		Periodicite: current.Periodicite,
		UploadedBy:  actor.UserID,
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		next.Title = title
	}
	if err := s.storeFile(next, file); err != nil {
		return nil, err
	}
	if err := s.repo.Renew(ctx, current.ID, next); err != nil {
		s.discard(next.FilePath)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "document already renewed")
		}
		return nil, appErrors.Internal(err, "failed to renew document")
	}

	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionDocumentRenew, "document", next.ID, map[string]interface{}{
		"replaces": current.ID,
		"title":    next.Title,
	})
	return next, nil
}

// GetDownloadURL signs a time-limited download link for id.
func (s *DocumentService) GetDownloadURL(ctx context.Context, id string) (*models.DocumentDownload, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, doc.FilePath)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign download url")
	}
	return &models.DocumentDownload{
		URL:       fmt.Sprintf("%s/documents/%s/download?token=%s", strings.TrimSuffix(s.cfg.DownloadPrefix, "/"), doc.ID, token),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Download checks token against id and opens the file. The caller closes it.
func (s *DocumentService) Download(ctx context.Context, id, token string) (*models.Document, *os.File, error) {
	grant, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download token")
	}
	if grant.SubjectID != id {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "token does not grant this document")
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if grant.Path != doc.FilePath {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "token does not grant this document")
	}
	f, err := s.files.Open(doc.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document file missing")
		}
		return nil, nil, appErrors.Internal(err, "failed to open document")
	}
	return doc, f, nil
}

// storeFile sniffs, checks and writes file, filling the file fields of doc.
func (s *DocumentService) storeFile(doc *models.Document, file dto.UploadFile) error {
	if file.Content == nil {
		return appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if file.Size > s.cfg.MaxFileSizeBytes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}
	if _, err := file.Content.Seek(0, io.SeekStart); err != nil {
		return appErrors.Internal(err, "failed to read upload")
	}
	detected, err := mimetype.DetectReader(file.Content)
	if err != nil {
		return appErrors.Internal(err, "failed to detect file type")
	}
	mime := strings.ToLower(strings.SplitN(detected.String(), ";", 2)[0])
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[mime]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", mime))
		}
	}
	if _, err := file.Content.Seek(0, io.SeekStart); err != nil {
		return appErrors.Internal(err, "failed to read upload")
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	name := safeFileName(file.Filename)
	rel := path.Join("documents", string(doc.Kind), doc.ID, name)
	written, err := s.files.SaveStream(rel, io.LimitReader(file.Content, s.cfg.MaxFileSizeBytes+1))
	if err != nil {
		return appErrors.Internal(err, "failed to store file")
	}
	if written > s.cfg.MaxFileSizeBytes {
		s.discard(rel)
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}
	doc.FilePath = rel
	doc.FileName = name
	doc.MimeType = mime
	doc.SizeBytes = written
	return nil
}

func (s *DocumentService) discard(rel string) {
	if rel == "" {
		return
	}
	if err := s.files.Delete(rel); err != nil {
		s.logger.Warn("failed to delete stored document", zap.String("path", rel), zap.Error(err))
	}
}
