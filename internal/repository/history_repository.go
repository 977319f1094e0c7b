package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/marches-api/internal/models"
)

// HistoryRepository appends and reads tender history.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Create appends one event.
func (r *HistoryRepository) Create(ctx context.Context, event *models.TenderEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.DateEvenement.IsZero() {
		event.DateEvenement = time.Now().UTC()
	}
	if len(event.Donnees) == 0 {
		event.Donnees = []byte("{}")
	}
	const query = `INSERT INTO tender_events
	(id, tender_id, dossier_id, task_id, user_id, type_evenement, etape_precedente, etape_nouvelle, description, commentaire, donnees, role, ip, date_evenement)
	VALUES (:id, :tender_id, :dossier_id, :task_id, :user_id, :type_evenement, :etape_precedente, :etape_nouvelle, :description, :commentaire, :donnees, :role, :ip, :date_evenement)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create tender event: %w", err)
	}
	return nil
}

// ListByTender returns a tender's history, newest first.
func (r *HistoryRepository) ListByTender(ctx context.Context, tenderID string) ([]models.TenderEvent, error) {
	const query = `SELECT id, tender_id, dossier_id, task_id, user_id, type_evenement, etape_precedente, etape_nouvelle,
	description, commentaire, donnees, role, ip, date_evenement
	FROM tender_events WHERE tender_id = $1 ORDER BY date_evenement DESC`
	var events []models.TenderEvent
	if err := r.db.SelectContext(ctx, &events, query, tenderID); err != nil {
		return nil, fmt.Errorf("list tender events: %w", err)
	}
	return events, nil
}
