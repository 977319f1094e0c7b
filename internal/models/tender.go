package models

import (
	"math"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TenderEtat is the lifecycle axis. The zero value stands for NULL.
type TenderEtat string

const (
	EtatNone      TenderEtat = ""
	EtatSelection TenderEtat = "en selection"
	EtatEnCours   TenderEtat = "en cours"
	EtatRejetee   TenderEtat = "rejetee"
	EtatRefuse    TenderEtat = "refuse"
	EtatAnnulee   TenderEtat = "annulee"
	EtatTerminee  TenderEtat = "terminee"
)

// Terminal reports whether no further transition may leave e.
func (e TenderEtat) Terminal() bool {
	switch e {
	case EtatRejetee, EtatRefuse, EtatAnnulee, EtatTerminee:
		return true
	}
	return false
}

// TenderEtape is the workflow stage axis. The zero value stands for NULL.
type TenderEtape string

const (
	EtapeNone             TenderEtape = ""
	EtapeDecisionInitial  TenderEtape = "decision initial"
	EtapeDecisionAdmin    TenderEtape = "decision admin"
	EtapeEtudesTechniques TenderEtape = "etudes-techniques"
	EtapePreparation      TenderEtape = "preparation"
	EtapePretSoumission   TenderEtape = "pret_soumission"
	EtapeCloture          TenderEtape = "cloture"
)

// TenderDecision is the director decision. The zero value stands for NULL.
type TenderDecision string

const (
	DecisionNone      TenderDecision = ""
	DecisionEnAttente TenderDecision = "en_attente"
	DecisionAccepte   TenderDecision = "accepte"
	DecisionRefuse    TenderDecision = "refuse"
)

// Pending reports whether the director has not ruled yet.
func (d TenderDecision) Pending() bool {
	return d == DecisionNone || d == DecisionEnAttente
}

// Importance classes accepted at intake.
const (
	ImportanceOuvert       = "ao_ouvert"
	ImportanceImportant    = "ao_important"
	ImportanceSimplifie    = "ao_simplifie"
	ImportanceRestreint    = "ao_restreint"
	ImportancePreselection = "ao_preselection"
	ImportanceBonCommande  = "ao_bon_commande"
)

// ValidImportance reports whether v is a known importance class.
func ValidImportance(v string) bool {
	switch v {
	case ImportanceOuvert, ImportanceImportant, ImportanceSimplifie, ImportanceRestreint, ImportancePreselection, ImportanceBonCommande:
		return true
	}
	return false
}

// Urgency classes.
const (
	UrgenceFaible  = "faible"
	UrgenceMoyenne = "moyenne"
	UrgenceElevee  = "elevee"
)

// OrdrePreparationInitial is stamped when the director accepts a tender.
const OrdrePreparationInitial = "preparation_dossier_administratif"

// DefaultIntakeRejectionReason fills motif_refus when intake rejection has no reason.
const DefaultIntakeRejectionReason = "Rejet à la décision initiale"

// Tender is a public procurement opportunity ("marché public").
type Tender struct {
	ID               string         `db:"id" json:"id"`
	Reference        string         `db:"reference" json:"reference"`
	TypeAO           *string        `db:"type_ao" json:"type_ao,omitempty"`
	Objet            string         `db:"objet" json:"objet"`
	MO               *string        `db:"mo" json:"mo,omitempty"`
	Estimation       *float64       `db:"estimation" json:"estimation,omitempty"`
	Caution          *float64       `db:"caution" json:"caution,omitempty"`
	Ville            *string        `db:"ville" json:"ville,omitempty"`
	LieuAO           *string        `db:"lieu_ao" json:"lieu_ao,omitempty"`
	DatePublication  *time.Time     `db:"date_publication" json:"date_publication,omitempty"`
	DateLimite       *time.Time     `db:"date_limite" json:"date_limite,omitempty"`
	Importance       string         `db:"importance" json:"importance,omitempty"`
	Urgence          string         `db:"urgence" json:"urgence,omitempty"`
	Etat             TenderEtat     `db:"etat" json:"etat,omitempty"`
	Etape            TenderEtape    `db:"etape" json:"etape,omitempty"`
	IsAccepted       bool           `db:"is_accepted" json:"is_accepted"`
	Decision         TenderDecision `db:"decision" json:"decision,omitempty"`
	DateDecision     *time.Time     `db:"date_decision" json:"date_decision,omitempty"`
	OrdrePreparation *string        `db:"ordre_preparation" json:"ordre_preparation,omitempty"`
	MotifRefus       *string        `db:"motif_refus" json:"motif_refus,omitempty"`
	CommentaireRefus *string        `db:"commentaire_refus" json:"commentaire_refus,omitempty"`
	MotifAnnulation  *string        `db:"motif_annulation" json:"motif_annulation,omitempty"`
	DateAnnulation   *time.Time     `db:"date_annulation" json:"date_annulation,omitempty"`
	AnnulePar        *string        `db:"annule_par" json:"annule_par,omitempty"`
	Source           string         `db:"source" json:"source"`
	AcheteurPublic   *string        `db:"acheteur_public" json:"acheteur_public,omitempty"`
	LienConsultation *string        `db:"lien_consultation" json:"lien_consultation,omitempty"`
	CheminZip        *string        `db:"chemin_zip" json:"chemin_zip,omitempty"`
	ExtractedFiles   types.JSONText `db:"extracted_files" json:"extracted_files,omitempty"`
	SourceData       types.JSONText `db:"source_data" json:"-"`
	Version          int            `db:"version" json:"version"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// TenderView selects one of the listing partitions.
type TenderView string

const (
	ViewPublic        TenderView = "public"
	ViewSelection     TenderView = "selection"
	ViewEnCours       TenderView = "en_cours"
	ViewRejetee       TenderView = "rejetee"
	ViewAnnulee       TenderView = "annulee"
	ViewTerminee      TenderView = "terminee"
	ViewDecisionQueue TenderView = "decision_queue"
)

// TenderViews lists every view in display order.
var TenderViews = []TenderView{
	ViewPublic, ViewSelection, ViewEnCours, ViewDecisionQueue, ViewRejetee, ViewAnnulee, ViewTerminee,
}

// Valid reports whether v names a known view.
func (v TenderView) Valid() bool {
	for _, known := range TenderViews {
		if v == known {
			return true
		}
	}
	return false
}

// TenderFilter narrows tender listings.
type TenderFilter struct {
	View     TenderView
	Search   string
	Page     int
	PageSize int
}

// TenderStats counts tenders per view.
type TenderStats struct {
	Counts      map[TenderView]int `json:"counts"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// TenderChange is a compare-and-swap write of one transition. Nil optional
// fields keep the stored value.
type TenderChange struct {
	ID               string
	ExpectedVersion  int
	IsAccepted       bool
	Etat             TenderEtat
	Etape            TenderEtape
	Decision         TenderDecision
	RequireUndecided bool

	Importance       *string
	DateDecision     *time.Time
	OrdrePreparation *string
	MotifRefus       *string
	CommentaireRefus *string
	MotifAnnulation  *string
	DateAnnulation   *time.Time
	AnnulePar        *string
}

// DaysUntil returns the days left before deadline, counting a started day as
// a full one. Zero or less means the deadline has passed.
func DaysUntil(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}
