package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/models"
)

var tenderRowColumns = []string{
	"id", "reference", "type_ao", "objet", "mo", "estimation", "caution", "ville", "lieu_ao", "date_publication", "date_limite",
	"importance", "urgence", "etat", "etape", "is_accepted", "decision",
	"date_decision", "ordre_preparation", "motif_refus", "commentaire_refus", "motif_annulation", "date_annulation", "annule_par",
	"source", "acheteur_public", "lien_consultation", "chemin_zip", "extracted_files", "source_data", "version", "created_at", "updated_at",
}

func newTenderRepoMock(t *testing.T) (*TenderRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewTenderRepository(sqlx.NewDb(db, "postgres")), mock, func() { _ = db.Close() }
}

func tenderRow(id, ref, etat, etape, decision string, accepted bool) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, ref, nil, "Travaux", nil, nil, nil, nil, nil, nil, nil,
		"", "", etat, etape, accepted, decision,
		nil, nil, nil, nil, nil, nil, nil,
		"import", nil, nil, nil, []byte("[]"), []byte("{}"), 3, now, now,
	}
}

func TestTenderRepositoryGetByID(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(tenderRowColumns).AddRow(tenderRow("t1", "AO-1/2026", "en cours", "decision admin", "", true)...)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tenders WHERE id = $1")).WithArgs("t1").WillReturnRows(rows)

	tender, err := repo.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.EtatEnCours, tender.Etat)
	assert.Equal(t, models.EtapeDecisionAdmin, tender.Etape)
	assert.Equal(t, models.DecisionNone, tender.Decision)
	assert.Equal(t, 3, tender.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderRepositoryApplyChangeConflict(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $14 AND version = $15 AND (decision IS NULL OR decision = 'en_attente')")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	motif := "Budget insuffisant"
	err := repo.ApplyChange(context.Background(), models.TenderChange{
		ID:               "t1",
		ExpectedVersion:  3,
		IsAccepted:       true,
		Etat:             models.EtatRefuse,
		Etape:            models.EtapeCloture,
		Decision:         models.DecisionRefuse,
		RequireUndecided: true,
		MotifRefus:       &motif,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderRepositoryApplyChange(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("version = version + 1")).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplyChange(context.Background(), models.TenderChange{
		ID: "t1", ExpectedVersion: 1, IsAccepted: true, Etat: models.EtatEnCours, Etape: models.EtapeDecisionInitial,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderRepositoryListDecisionQueue(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(tenderRowColumns).AddRow(tenderRow("t1", "AO-1", "en cours", "decision admin", "", true)...)
	mock.ExpectQuery(regexp.QuoteMeta("etape = 'decision admin' AND (reference ILIKE $1 OR objet ILIKE $1 OR mo ILIKE $1) ORDER BY CASE urgence WHEN 'elevee' THEN 0")).
		WithArgs("%route%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tenders WHERE")).
		WithArgs("%route%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	tenders, total, err := repo.List(context.Background(), models.TenderFilter{View: models.ViewDecisionQueue, Search: "route"})
	require.NoError(t, err)
	assert.Len(t, tenders, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderRepositoryBulkInsertSkipsConflicts(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (reference) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (reference) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := repo.BulkInsert(context.Background(), []*models.Tender{
		{Reference: "C", Objet: "Lot C"},
		{Reference: "D", Objet: "Lot D"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderRepositoryCountByView(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	cols := make([]string, 0, len(models.TenderViews))
	vals := make([]driver.Value, 0, len(models.TenderViews))
	for i, view := range models.TenderViews {
		cols = append(cols, string(view))
		vals = append(vals, int64(i))
	}
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE")).WillReturnRows(sqlmock.NewRows(cols).AddRow(vals...))

	counts, err := repo.CountByView(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts[models.ViewPublic])
	assert.Equal(t, 3, counts[models.ViewDecisionQueue])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderRepositoryCountByViewRejectsBadCount(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	cols := make([]string, 0, len(models.TenderViews))
	vals := make([]driver.Value, 0, len(models.TenderViews))
	for _, view := range models.TenderViews {
		cols = append(cols, string(view))
		vals = append(vals, []byte("n/a"))
	}
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE")).WillReturnRows(sqlmock.NewRows(cols).AddRow(vals...))

	_, err := repo.CountByView(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count")
}

func TestTenderRepositoryExistingReferences(t *testing.T) {
	repo, mock, cleanup := newTenderRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT reference FROM tenders")).
		WillReturnRows(sqlmock.NewRows([]string{"reference"}).AddRow("A").AddRow("B"))

	refs, err := repo.ExistingReferences(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Contains(t, refs, "A")
}
