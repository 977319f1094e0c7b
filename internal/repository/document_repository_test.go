package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/models"
)

func newDocumentRepoMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewDocumentRepository(sqlx.NewDb(db, "postgres")), mock, func() { _ = db.Close() }
}

func TestDocumentRepositoryRenewArchivesOld(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET archived = TRUE")).
		WithArgs("doc-old", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next := &models.Document{Kind: models.KindDocument, Title: "Attestation CNSS", Type: "cnss", FilePath: "documents/cnss.pdf"}
	require.NoError(t, repo.Renew(context.Background(), "doc-old", next))
	require.NotNil(t, next.ReplacesID)
	assert.Equal(t, "doc-old", *next.ReplacesID)
	assert.NotEmpty(t, next.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryRenewTwice(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET archived = TRUE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Renew(context.Background(), "doc-old", &models.Document{})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListFilters(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "kind", "title", "type", "periodicite", "file_path", "file_name", "mime_type", "size_bytes", "uploaded_by", "archived", "archived_at", "replaces_id", "created_at"}).
		AddRow("d1", "methodology", "Note", "note", nil, "m/n.pdf", "n.pdf", "application/pdf", 12, "u1", false, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE archived = FALSE AND kind = $1 ORDER BY created_at DESC")).
		WithArgs(models.KindMethodology).
		WillReturnRows(rows)

	docs, err := repo.List(context.Background(), models.DocumentFilter{Kind: models.KindMethodology})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(12), docs[0].SizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
