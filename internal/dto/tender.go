package dto

import "github.com/noah-isme/marches-api/internal/models"

// AcceptIntakeRequest classifies a tender accepted at intake.
type AcceptIntakeRequest struct {
	Importance string `json:"importance" validate:"required"`
}

// RejectIntakeRequest carries the optional intake rejection reason.
type RejectIntakeRequest struct {
	Motif string `json:"motif" validate:"max=500"`
}

// PromoteRequest moves a tender to the director queue. Files land in the
// financier dossier.
type PromoteRequest struct {
	Importance string       `form:"importance" json:"importance"`
	Files      []UploadFile `form:"-" json:"-"`
}

// DirectorAcceptRequest records the director's approval.
type DirectorAcceptRequest struct {
	Commentaire string `json:"commentaire" validate:"max=1000"`
}

// DirectorRefuseRequest records the director's refusal.
type DirectorRefuseRequest struct {
	Motif       string `json:"motif" validate:"required,min=5,max=500"`
	Commentaire string `json:"commentaire" validate:"max=1000"`
}

// CancelRequest cancels a tender.
type CancelRequest struct {
	Motif string `json:"motif" validate:"required,max=500"`
}

// TenderListQuery captures listing query parameters.
type TenderListQuery struct {
	View     models.TenderView `form:"view"`
	Search   string            `form:"search"`
	Page     int               `form:"page"`
	PageSize int               `form:"page_size"`
}

// TenderExportQuery selects the view and output format of an export.
type TenderExportQuery struct {
	View   models.TenderView `form:"view"`
	Format string            `form:"format"`
}

// TenderSummary enriches a tender with its deadline urgency.
type TenderSummary struct {
	models.Tender
	DaysRemaining *int   `json:"days_remaining,omitempty"`
	Urgency       string `json:"deadline_urgency"`
}

// TransitionResult is returned by every lifecycle operation.
type TransitionResult struct {
	Tender        *models.Tender   `json:"tender"`
	Notifications int              `json:"notifications_sent"`
	Dossiers      []models.Dossier `json:"dossiers,omitempty"`
	Files         []string         `json:"files,omitempty"`
}
