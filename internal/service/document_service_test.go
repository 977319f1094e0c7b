package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/storage"
)

type memDocumentStore struct {
	mu        sync.Mutex
	docs      map[string]*models.Document
	createErr error
}

func (s *memDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *doc
	s.docs[doc.ID] = &clone
	return nil
}

func (s *memDocumentStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *doc
	return &clone, nil
}

func (s *memDocumentStore) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, doc := range s.docs {
		if doc.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.Kind != "" && doc.Kind != filter.Kind {
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (s *memDocumentStore) Renew(ctx context.Context, oldID string, next *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.docs[oldID]
	if !ok || old.Archived {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	old.Archived = true
	old.ArchivedAt = &now
	next.ReplacesID = &oldID
	clone := *next
	s.docs[next.ID] = &clone
	return nil
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func pdfUpload(name string) dto.UploadFile {
	return dto.UploadFile{Filename: name, Size: int64(len(pdfBytes)), Content: bytes.NewReader(pdfBytes)}
}

type documentFixture struct {
	svc   *DocumentService
	store *memDocumentStore
	files *storage.LocalStorage
	root  string
	audit *auditStub
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewLocalStorage(root)
	require.NoError(t, err)
	fx := &documentFixture{
		store: &memDocumentStore{docs: map[string]*models.Document{}},
		files: files,
		root:  root,
		audit: &auditStub{},
	}
	fx.svc = NewDocumentService(fx.store, files, storage.NewSignedURLSigner("secret", time.Minute), fx.audit, zap.NewNop(), DocumentConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf"},
		DownloadPrefix:   "/api/v1",
	})
	return fx
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return err
	}))
	return n
}

func TestDocumentUploadAndDownload(t *testing.T) {
	fx := newDocumentFixture(t)
	actor := actorWith(models.RoleEtudesTechniques)
	ctx := context.Background()

	doc, err := fx.svc.Upload(ctx, dto.UploadDocumentRequest{Kind: models.KindMethodology, Type: "note"}, pdfUpload("Note méthodo.pdf"), actor)
	require.NoError(t, err)
	assert.Equal(t, "Note méthodo", doc.Title)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, int64(len(pdfBytes)), doc.SizeBytes)
	assert.Equal(t, actor.UserID, doc.UploadedBy)
	assert.True(t, fx.files.Exists(doc.FilePath))
	require.Len(t, fx.audit.logs, 1)

	link, err := fx.svc.GetDownloadURL(ctx, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, link.URL, "/api/v1/documents/"+doc.ID+"/download?token=")

	got, f, err := fx.svc.Download(ctx, doc.ID, link.Token)
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, body)
	assert.Equal(t, doc.ID, got.ID)
}

func TestDocumentUploadRejectsTypeAndSize(t *testing.T) {
	fx := newDocumentFixture(t)
	actor := actorWith(models.RoleAdmin)

	_, err := fx.svc.Upload(context.Background(), dto.UploadDocumentRequest{Title: "notes"}, dto.UploadFile{
		Filename: "notes.txt", Size: 5, Content: bytes.NewReader([]byte("hello")),
	}, actor)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	big := append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("x"), 2048)...)
	_, err = fx.svc.Upload(context.Background(), dto.UploadDocumentRequest{Title: "gros"}, dto.UploadFile{
		Filename: "gros.pdf", Size: int64(len(big)), Content: bytes.NewReader(big),
	}, actor)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, countFiles(t, fx.root))
}

func TestDocumentUploadRemovesFileWhenMetadataFails(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.store.createErr = errors.New("db down")

	_, err := fx.svc.Upload(context.Background(), dto.UploadDocumentRequest{Title: "x"}, pdfUpload("x.pdf"), actorWith(models.RoleAdmin))
	require.Error(t, err)
	assert.Zero(t, countFiles(t, fx.root))
}

func TestDocumentRenewArchivesPrevious(t *testing.T) {
	fx := newDocumentFixture(t)
	actor := actorWith(models.RoleAdmin)
	ctx := context.Background()

	original, err := fx.svc.Upload(ctx, dto.UploadDocumentRequest{Kind: models.KindReference, Title: "Attestation CNSS"}, pdfUpload("cnss.pdf"), actor)
	require.NoError(t, err)

	renewed, err := fx.svc.Renew(ctx, original.ID, dto.RenewDocumentRequest{}, pdfUpload("cnss-2026.pdf"), actor)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, renewed.ID)
	assert.Equal(t, "Attestation CNSS", renewed.Title)
	assert.Equal(t, models.KindReference, renewed.Kind)
	require.NotNil(t, renewed.ReplacesID)
	assert.Equal(t, original.ID, *renewed.ReplacesID)

	old, err := fx.svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, old.Archived)
	assert.True(t, fx.files.Exists(old.FilePath))

	visible, err := fx.svc.List(ctx, models.DocumentFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, renewed.ID, visible[0].ID)

	_, err = fx.svc.Renew(ctx, original.ID, dto.RenewDocumentRequest{}, pdfUpload("again.pdf"), actor)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestDocumentDownloadChecksToken(t *testing.T) {
	fx := newDocumentFixture(t)
	actor := actorWith(models.RoleAdmin)
	ctx := context.Background()

	first, err := fx.svc.Upload(ctx, dto.UploadDocumentRequest{Title: "a"}, pdfUpload("a.pdf"), actor)
	require.NoError(t, err)
	second, err := fx.svc.Upload(ctx, dto.UploadDocumentRequest{Title: "b"}, pdfUpload("b.pdf"), actor)
	require.NoError(t, err)

	link, err := fx.svc.GetDownloadURL(ctx, first.ID)
	require.NoError(t, err)

	_, _, err = fx.svc.Download(ctx, second.ID, link.Token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, _, err = fx.svc.Download(ctx, first.ID, link.Token+"x")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestDocumentListRejectsUnknownKind(t *testing.T) {
	fx := newDocumentFixture(t)
	_, err := fx.svc.List(context.Background(), models.DocumentFilter{Kind: "photo"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
