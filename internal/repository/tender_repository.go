package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/marches-api/internal/models"
)

const tenderColumns = `id, reference, type_ao, objet, mo, estimation, caution, ville, lieu_ao, date_publication, date_limite,
	COALESCE(importance, '') AS importance, COALESCE(urgence, '') AS urgence,
	COALESCE(etat, '') AS etat, COALESCE(etape, '') AS etape, is_accepted, COALESCE(decision, '') AS decision,
	date_decision, ordre_preparation, motif_refus, commentaire_refus, motif_annulation, date_annulation, annule_par,
	source, acheteur_public, lien_consultation, chemin_zip, extracted_files, source_data, version, created_at, updated_at`

var tenderViewConditions = map[models.TenderView]string{
	models.ViewPublic:        "is_accepted = FALSE AND (etat IS NULL OR etat NOT IN ('rejetee', 'annulee'))",
	models.ViewSelection:     "etat = 'en selection'",
	models.ViewEnCours:       "is_accepted = TRUE AND etat = 'en cours'",
	models.ViewRejetee:       "etat IN ('rejetee', 'refuse')",
	models.ViewAnnulee:       "etat = 'annulee'",
	models.ViewTerminee:      "etat = 'terminee'",
	models.ViewDecisionQueue: "is_accepted = TRUE AND etat = 'en cours' AND etape = 'decision admin'",
}

const decisionQueueOrder = `CASE urgence WHEN 'elevee' THEN 0 WHEN 'moyenne' THEN 1 WHEN 'faible' THEN 2 ELSE 3 END, date_limite ASC NULLS LAST`

// TenderRepository persists tenders. Rows are never deleted.
type TenderRepository struct {
	db *sqlx.DB
}

// NewTenderRepository constructs the repository.
func NewTenderRepository(db *sqlx.DB) *TenderRepository {
	return &TenderRepository{db: db}
}

// GetByID fetches one tender.
func (r *TenderRepository) GetByID(ctx context.Context, id string) (*models.Tender, error) {
	query := `SELECT ` + tenderColumns + ` FROM tenders WHERE id = $1`
	var tender models.Tender
	if err := r.db.GetContext(ctx, &tender, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get tender: %w", err)
	}
	return &tender, nil
}

// List returns one page of a view with the total row count.
func (r *TenderRepository) List(ctx context.Context, filter models.TenderFilter) ([]models.Tender, int, error) {
	where, args := tenderWhere(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	listQuery := fmt.Sprintf("SELECT %s FROM tenders%s ORDER BY %s LIMIT %d OFFSET %d",
		tenderColumns, where, tenderOrder(filter.View), pageSize, (page-1)*pageSize)
	var tenders []models.Tender
	if err := r.db.SelectContext(ctx, &tenders, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list tenders: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tenders"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count tenders: %w", err)
	}
	return tenders, total, nil
}

// ListAll returns every tender of a view, used by exports.
func (r *TenderRepository) ListAll(ctx context.Context, filter models.TenderFilter) ([]models.Tender, error) {
	where, args := tenderWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM tenders%s ORDER BY %s", tenderColumns, where, tenderOrder(filter.View))
	var tenders []models.Tender
	if err := r.db.SelectContext(ctx, &tenders, query, args...); err != nil {
		return nil, fmt.Errorf("list all tenders: %w", err)
	}
	return tenders, nil
}

// CountByView counts tenders in every view with a single scan.
func (r *TenderRepository) CountByView(ctx context.Context) (map[models.TenderView]int, error) {
	parts := make([]string, 0, len(models.TenderViews))
	for _, view := range models.TenderViews {
		parts = append(parts, fmt.Sprintf("COUNT(*) FILTER (WHERE %s) AS %s", tenderViewConditions[view], view))
	}
	rows, err := r.db.QueryxContext(ctx, "SELECT "+strings.Join(parts, ", ")+" FROM tenders")
	if err != nil {
		return nil, fmt.Errorf("count tenders by view: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TenderView]int, len(models.TenderViews))
	if rows.Next() {
		values := make(map[string]interface{})
		if err := rows.MapScan(values); err != nil {
			return nil, fmt.Errorf("scan tender counts: %w", err)
		}
		for _, view := range models.TenderViews {
			n, err := toInt(values[string(view)])
			if err != nil {
				return nil, fmt.Errorf("read %s count: %w", view, err)
			}
			counts[view] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tender counts: %w", err)
	}
	return counts, nil
}

// ApplyChange writes a transition if the row still carries change.ExpectedVersion
// (and is still undecided when asked). It returns sql.ErrNoRows when another
// writer got there first.
func (r *TenderRepository) ApplyChange(ctx context.Context, change models.TenderChange) error {
	query := `UPDATE tenders SET
	is_accepted = :is_accepted,
	etat = NULLIF(:etat, ''),
	etape = NULLIF(:etape, ''),
	decision = NULLIF(:decision, ''),
	importance = COALESCE(:importance, importance),
	date_decision = COALESCE(:date_decision, date_decision),
	ordre_preparation = COALESCE(:ordre_preparation, ordre_preparation),
	motif_refus = COALESCE(:motif_refus, motif_refus),
	commentaire_refus = COALESCE(:commentaire_refus, commentaire_refus),
	motif_annulation = COALESCE(:motif_annulation, motif_annulation),
	date_annulation = COALESCE(:date_annulation, date_annulation),
	annule_par = COALESCE(:annule_par, annule_par),
	version = version + 1,
	updated_at = :updated_at
	WHERE id = :id AND version = :expected_version`
	if change.RequireUndecided {
		query += ` AND (decision IS NULL OR decision = 'en_attente')`
	}

	args := map[string]interface{}{
		"id":                change.ID,
		"expected_version":  change.ExpectedVersion,
		"is_accepted":       change.IsAccepted,
		"etat":              string(change.Etat),
		"etape":             string(change.Etape),
		"decision":          string(change.Decision),
		"importance":        change.Importance,
		"date_decision":     change.DateDecision,
		"ordre_preparation": change.OrdrePreparation,
		"motif_refus":       change.MotifRefus,
		"commentaire_refus": change.CommentaireRefus,
		"motif_annulation":  change.MotifAnnulation,
		"date_annulation":   change.DateAnnulation,
		"annule_par":        change.AnnulePar,
		"updated_at":        time.Now().UTC(),
	}
	res, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("apply tender change: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check tender change rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExistingReferences loads every stored reference.
func (r *TenderRepository) ExistingReferences(ctx context.Context) (map[string]struct{}, error) {
	var refs []string
	if err := r.db.SelectContext(ctx, &refs, `SELECT reference FROM tenders`); err != nil {
		return nil, fmt.Errorf("load tender references: %w", err)
	}
	known := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		known[ref] = struct{}{}
	}
	return known, nil
}

// BulkInsert stores tenders in one transaction. References already present are
// left untouched. It returns the references actually inserted.
func (r *TenderRepository) BulkInsert(ctx context.Context, tenders []*models.Tender) (inserted []string, err error) {
	if len(tenders) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tender import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO tenders
	(id, reference, type_ao, objet, mo, estimation, caution, ville, lieu_ao, date_publication, date_limite,
	 is_accepted, source, acheteur_public, lien_consultation, chemin_zip, extracted_files, source_data, version, created_at, updated_at)
	VALUES (:id, :reference, :type_ao, :objet, :mo, :estimation, :caution, :ville, :lieu_ao, :date_publication, :date_limite,
	 FALSE, :source, :acheteur_public, :lien_consultation, :chemin_zip, :extracted_files, :source_data, 1, :created_at, :updated_at)
	ON CONFLICT (reference) DO NOTHING`

	now := time.Now().UTC()
	for _, tender := range tenders {
		if tender.ID == "" {
			tender.ID = uuid.NewString()
		}
		if tender.Source == "" {
			tender.Source = "import"
		}
		if len(tender.ExtractedFiles) == 0 {
			tender.ExtractedFiles = []byte("[]")
		}
		if len(tender.SourceData) == 0 {
			tender.SourceData = []byte("{}")
		}
		tender.CreatedAt, tender.UpdatedAt, tender.Version = now, now, 1

		res, execErr := tx.NamedExecContext(ctx, query, tender)
		if execErr != nil {
			err = fmt.Errorf("insert tender %s: %w", tender.Reference, execErr)
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, tender.Reference)
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit tender import: %w", err)
		return nil, err
	}
	return inserted, nil
}

func tenderWhere(filter models.TenderFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	if cond, ok := tenderViewConditions[filter.View]; ok {
		conditions = append(conditions, cond)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(reference ILIKE $%d OR objet ILIKE $%d OR mo ILIKE $%d)", n, n, n))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func tenderOrder(view models.TenderView) string {
	if view == models.ViewDecisionQueue {
		return decisionQueueOrder
	}
	return "created_at DESC"
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case int:
		return n, nil
	case []byte:
		return strconv.Atoi(string(n))
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
