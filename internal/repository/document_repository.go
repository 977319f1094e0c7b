package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/marches-api/internal/models"
)

const documentColumns = `id, kind, title, type, periodicite, file_path, file_name, mime_type, size_bytes, uploaded_by, archived, archived_at, replaces_id, created_at`

const insertDocument = `INSERT INTO documents
	(id, kind, title, type, periodicite, file_path, file_name, mime_type, size_bytes, uploaded_by, archived, archived_at, replaces_id, created_at)
	VALUES (:id, :kind, :title, :type, :periodicite, :file_path, :file_name, :mime_type, :size_bytes, :uploaded_by, :archived, :archived_at, :replaces_id, :created_at)`

// DocumentRepository handles document metadata persistence.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores metadata for an uploaded file.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	prepareDocument(doc)
	if _, err := r.db.NamedExecContext(ctx, insertDocument, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID retrieves one document.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns documents matching filter, newest first. Archived rows are hidden by default.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + documentColumns + ` FROM documents`)
	args := make([]interface{}, 0, 2)
	conditions := make([]string, 0, 3)

	if !filter.IncludeArchived {
		conditions = append(conditions, "archived = FALSE")
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Renew archives old and inserts next in one transaction. It returns
// sql.ErrNoRows when old was already archived.
func (r *DocumentRepository) Renew(ctx context.Context, oldID string, next *models.Document) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renewal: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE documents SET archived = TRUE, archived_at = $2 WHERE id = $1 AND archived = FALSE`, oldID, now)
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	prepareDocument(next)
	next.ReplacesID = &oldID
	if _, err = tx.NamedExecContext(ctx, insertDocument, next); err != nil {
		return fmt.Errorf("insert renewed document: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit renewal: %w", err)
	}
	return nil
}

func prepareDocument(doc *models.Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.Archived = false
	doc.ArchivedAt = nil
}
