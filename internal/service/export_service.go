package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/workflow"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered export ready to be sent as an attachment.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService turns tender listings into CSV or PDF files.
type ExportService struct {
	csv csvRenderer
	pdf pdfRenderer
	now func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers use the defaults.
func NewExportService(csv csvRenderer, pdf pdfRenderer) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter(export.WithSemicolon())
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{csv: csv, pdf: pdf, now: time.Now}
}

var tenderExportColumns = []export.Column{
	{Key: "reference", Label: "Référence", Width: 30},
	{Key: "objet", Label: "Objet"},
	{Key: "mo", Label: "Maître d'ouvrage", Width: 40},
	{Key: "ville", Label: "Ville", Width: 25},
	{Key: "estimation", Label: "Estimation", Width: 25},
	{Key: "date_limite", Label: "Date limite", Width: 22},
	{Key: "urgence", Label: "Urgence", Width: 18},
	{Key: "etat", Label: "État", Width: 20},
	{Key: "etape", Label: "Étape", Width: 25},
}

// Tenders renders tenders of view in format.
func (s *ExportService) Tenders(view models.TenderView, tenders []models.Tender, format string) (*ExportFile, error) {
	now := s.now()
	data := export.Dataset{Columns: tenderExportColumns, Rows: make([]map[string]string, 0, len(tenders))}
	for _, t := range tenders {
		data.Rows = append(data.Rows, map[string]string{
			"reference":   t.Reference,
			"objet":       t.Objet,
			"mo":          deref(t.MO),
			"ville":       deref(t.Ville),
			"estimation":  formatAmount(t.Estimation),
			"date_limite": formatDate(t.DateLimite),
			"urgence":     workflow.DeadlineUrgency(t.DateLimite, now),
			"etat":        string(t.Etat),
			"etape":       string(t.Etape),
		})
	}

	base := fmt.Sprintf("marches_%s_%s", view, now.Format("20060102_1504"))
	switch strings.ToLower(format) {
	case "", ExportFormatCSV:
		payload, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render csv export")
		}
		return &ExportFile{Filename: base + ".csv", ContentType: "text/csv; charset=utf-8", Payload: payload}, nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(data, fmt.Sprintf("Marchés publics - %s", view))
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render pdf export")
		}
		return &ExportFile{Filename: base + ".pdf", ContentType: "application/pdf", Payload: payload}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("02/01/2006")
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
