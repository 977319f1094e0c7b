package dto

import "github.com/noah-isme/marches-api/internal/models"

// UploadDocumentRequest is the metadata sent with a document upload.
type UploadDocumentRequest struct {
	Kind        models.DocumentKind `form:"kind" json:"kind"`
	Title       string              `form:"title" json:"title"`
	Type        string              `form:"type" json:"type"`
	Periodicite *string             `form:"periodicite" json:"periodicite"`
}

// RenewDocumentRequest optionally retitles the renewed document.
type RenewDocumentRequest struct {
	Title string `form:"title" json:"title"`
}
