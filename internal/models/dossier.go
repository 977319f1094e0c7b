package models

import (
	"math"
	"time"
)

// DossierType classifies a tender case folder.
type DossierType string

const (
	DossierAdministratif  DossierType = "administratif"
	DossierTechnique      DossierType = "technique"
	DossierOffreTechnique DossierType = "offre_technique"
	DossierFinancier      DossierType = "financier"
)

// Dossier statuses.
const (
	DossierStatutEnAttente = "en_attente"
	DossierStatutEnCours   = "en_cours"
	DossierStatutTermine   = "termine"
)

// DossierTypes is the creation order used when a tender enters preparation.
var DossierTypes = []DossierType{DossierAdministratif, DossierTechnique, DossierOffreTechnique, DossierFinancier}

// DossierNames are the display names of each dossier type.
var DossierNames = map[DossierType]string{
	DossierAdministratif:  "Dossier administratif",
	DossierTechnique:      "Dossier technique",
	DossierOffreTechnique: "Offre technique",
	DossierFinancier:      "Offre financière",
}

// DefaultTasks seeds every new dossier.
var DefaultTasks = map[DossierType][]string{
	DossierAdministratif: {
		"Délégation des pouvoirs",
		"Statuts de l'entreprise",
		"Déclaration sur l'honneur",
		"Caution provisoire",
	},
	DossierTechnique: {
		"Références techniques",
		"Moyens humains",
		"Moyens matériels",
		"Attestations de bonne exécution",
		"Certificats de qualification",
	},
	DossierOffreTechnique: {
		"Note méthodologique",
		"Planning d'exécution",
		"Organisation du chantier",
		"Programme qualité",
		"Plan HSE",
		"Organigramme du projet",
		"CV des intervenants",
		"Liste du matériel",
		"Sous-traitance envisagée",
		"Visite des lieux",
	},
	DossierFinancier: {
		"Acte d'engagement",
		"Bordereau des prix global",
		"Détail estimatif (BPU)",
	},
}

// Dossier is a case folder of one tender.
type Dossier struct {
	ID         string      `db:"id" json:"id"`
	TenderID   string      `db:"tender_id" json:"tender_id"`
	Type       DossierType `db:"type" json:"type"`
	Nom        string      `db:"nom" json:"nom"`
	Statut     string      `db:"statut" json:"statut"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	TotalTasks int         `db:"total_tasks" json:"total_tasks"`
	DoneTasks  int         `db:"done_tasks" json:"done_tasks"`
	Progress   float64     `db:"-" json:"progress"`
}

// CompletionPercent returns done/total as a percentage rounded to two decimals.
func CompletionPercent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*100*100) / 100
}
