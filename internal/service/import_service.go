package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
)

// Scraper output file names inside the data directory.
const (
	ImportJSONFile       = "marches_publics_data.json"
	ImportCSVFile        = "marches_publics_data.csv"
	ScrapingProgressFile = "scraping_progress.json"
)

// Import row outcomes, used as metric labels.
const (
	importInserted  = "inserted"
	importExisting  = "skipped_existing"
	importDuplicate = "skipped_duplicate"
	importInvalid   = "skipped_invalid"
)

var importDateLayouts = []string{
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

type importStore interface {
	ExistingReferences(ctx context.Context) (map[string]struct{}, error)
	BulkInsert(ctx context.Context, tenders []*models.Tender) ([]string, error)
}

// ImportService loads scraped tenders and inserts the ones not seen before.
type ImportService struct {
	repo     importStore
	cache    *CacheService
	metrics  *MetricsService
	audit    auditLogger
	logger   *zap.Logger
	defaults models.ImportSource
	location *time.Location
	now      func() time.Time
}

// NewImportService constructs an ImportService. defaults fills the blanks of
// every ImportSource passed to Import.
func NewImportService(repo importStore, cache *CacheService, metrics *MetricsService, audit auditLogger, logger *zap.Logger, defaults models.ImportSource) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		repo:     repo,
		cache:    cache,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		defaults: defaults,
		location: time.Local,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type scrapedRow struct {
	line      int
	fields    map[string]string
	files     []string
	raw       interface{}
	malformed bool
}

func (r scrapedRow) get(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r.fields[key]); v != "" {
			return v
		}
	}
	return ""
}

// Import runs one batch. It is not resumable: a rerun recomputes the known
// references and skips whatever the previous run inserted.
func (s *ImportService) Import(ctx context.Context, src models.ImportSource, actor *models.Actor) (*models.ImportReport, error) {
	if actor != nil && !actor.Can(models.CapImport) {
		return nil, appErrors.ErrForbidden
	}
	if src.DataDir == "" {
		src.DataDir = s.defaults.DataDir
	}
	if src.FilesDir == "" {
		src.FilesDir = s.defaults.FilesDir
	}
	src.DeleteSource = src.DeleteSource || s.defaults.DeleteSource

	report := &models.ImportReport{StartedAt: s.now(), InsertedRefs: []string{}, Warnings: []string{}}

	known, err := s.repo.ExistingReferences(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load existing references")
	}

	sourcePath, rows, err := readScrapedRows(src.DataDir)
	if err != nil {
		return nil, err
	}
	report.Source = sourcePath
	report.Read = len(rows)

	seen := make(map[string]struct{}, len(rows))
	batch := make([]*models.Tender, 0, len(rows))
	for _, row := range rows {
		ref := row.get("reference")
		switch {
		case row.malformed:
			report.SkippedInvalid++
			report.Warnings = append(report.Warnings, fmt.Sprintf("row %d: malformed", row.line))
			continue
		case ref == "":
			report.SkippedInvalid++
			report.Warnings = append(report.Warnings, fmt.Sprintf("row %d: missing reference", row.line))
			continue
		case contains(known, ref):
			report.SkippedExisting++
			continue
		case contains(seen, ref):
			report.SkippedDuplicate++
			continue
		}
		seen[ref] = struct{}{}

		tender, warnings := s.mapRow(row, ref)
		report.Warnings = append(report.Warnings, warnings...)
		resolveSidecar(tender, row, src.FilesDir)
		batch = append(batch, tender)
	}

	inserted, err := s.repo.BulkInsert(ctx, batch)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to insert imported tenders")
	}
	report.Inserted = len(inserted)
	report.InsertedRefs = append(report.InsertedRefs, inserted...)
	// rows that lost an insert race against another writer count as existing
	report.SkippedExisting += len(batch) - len(inserted)
	report.FinishedAt = s.now()

	if src.DeleteSource {
		s.deleteSource(src.DataDir)
	}

	s.metrics.RecordImportRows(importInserted, report.Inserted)
	s.metrics.RecordImportRows(importExisting, report.SkippedExisting)
	s.metrics.RecordImportRows(importDuplicate, report.SkippedDuplicate)
	s.metrics.RecordImportRows(importInvalid, report.SkippedInvalid)
	if report.Inserted > 0 {
		_ = s.cache.Invalidate(ctx, tenderCachePattern)
	}
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionImport, "tender_import", "", map[string]int{
		"read":              report.Read,
		"inserted":          report.Inserted,
		"skipped_existing":  report.SkippedExisting,
		"skipped_duplicate": report.SkippedDuplicate,
	})
	s.logger.Info("tender import finished",
		zap.String("source", report.Source),
		zap.Int("read", report.Read),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped_existing", report.SkippedExisting),
		zap.Int("skipped_duplicate", report.SkippedDuplicate),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

func (s *ImportService) mapRow(row scrapedRow, ref string) (*models.Tender, []string) {
	var warnings []string
	tender := &models.Tender{
		Reference: ref,
		Objet:     row.get("objet_complet", "objet"),
		Source:    "import",
	}
	tender.TypeAO = optional(row.get("type_procedure", "type_ao"))
	if buyer := optional(row.get("acheteur_public")); buyer != nil {
		tender.MO = buyer
		tender.AcheteurPublic = buyer
	}
	tender.Ville = optional(row.get("lieu_execution", "lieu_execution_complet", "ville"))
	tender.LieuAO = optional(row.get("lieu_execution_complet"))
	tender.LienConsultation = optional(row.get("lien_consultation"))

	for _, field := range []struct {
		key  string
		dest **time.Time
	}{{"date_limite", &tender.DateLimite}, {"date_publication", &tender.DatePublication}} {
		raw := row.get(field.key)
		if raw == "" {
			continue
		}
		parsed, ok := parseImportDate(raw, s.location)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("row %d: unparseable %s %q", row.line, field.key, raw))
			continue
		}
		*field.dest = &parsed
	}

	if raw := row.get("estimation", "montant", "budget"); raw != "" {
		if amount, ok := parseAmount(raw); ok {
			tender.Estimation = &amount
		} else {
			warnings = append(warnings, fmt.Sprintf("row %d: unparseable estimation %q", row.line, raw))
		}
	}

	if encoded, err := json.Marshal(row.raw); err == nil {
		tender.SourceData = types.JSONText(encoded)
	}
	return tender, warnings
}

// resolveSidecar attaches the downloaded consultation files. Values written by
// the scraper win; otherwise FilesDir is searched by sanitised reference.
func resolveSidecar(tender *models.Tender, row scrapedRow, filesDir string) {
	if zipPath := row.get("chemin_zip"); zipPath != "" {
		tender.CheminZip = &zipPath
	}
	if len(row.files) > 0 {
		if encoded, err := json.Marshal(row.files); err == nil {
			tender.ExtractedFiles = types.JSONText(encoded)
		}
	}
	if filesDir == "" || (tender.CheminZip != nil && len(tender.ExtractedFiles) > 0) {
		return
	}

	safe := sanitizeReference(tender.Reference)
	if tender.CheminZip == nil {
		zipPath := filepath.Join(filesDir, safe+".zip")
		if info, err := os.Stat(zipPath); err == nil && !info.IsDir() {
			tender.CheminZip = &zipPath
		}
	}
	if len(tender.ExtractedFiles) == 0 {
		folder := filepath.Join(filesDir, safe)
		if files := listFolder(folder); len(files) > 0 {
			if encoded, err := json.Marshal(files); err == nil {
				tender.ExtractedFiles = types.JSONText(encoded)
			}
		}
	}
}

func listFolder(root string) []string {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || skipArchiveEntry(d.Name()) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files
}

func (s *ImportService) deleteSource(dataDir string) {
	for _, name := range []string{ImportJSONFile, ImportCSVFile} {
		path := filepath.Join(dataDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to delete import source", zap.String("path", path), zap.Error(err))
		}
	}
}

// readScrapedRows prefers the JSON output and falls back to the CSV one.
func readScrapedRows(dataDir string) (string, []scrapedRow, error) {
	jsonPath := filepath.Join(dataDir, ImportJSONFile)
	if raw, err := os.ReadFile(jsonPath); err == nil {
		rows, err := parseJSONRows(raw)
		if err != nil {
			return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "scraper json output is malformed")
		}
		return jsonPath, rows, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", nil, appErrors.Internal(err, "failed to read scraper json output")
	}

	csvPath := filepath.Join(dataDir, ImportCSVFile)
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, appErrors.Clone(appErrors.ErrNotFound, "no scraper output found")
		}
		return "", nil, appErrors.Internal(err, "failed to read scraper csv output")
	}
	rows, err := parseCSVRows(raw)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "scraper csv output is malformed")
	}
	return csvPath, rows, nil
}

// parseJSONRows fails only when the document is not an array. Elements that
// are not objects come back as malformed rows.
func parseJSONRows(raw []byte) ([]scrapedRow, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, err
	}
	rows := make([]scrapedRow, 0, len(elements))
	for i, element := range elements {
		var item map[string]interface{}
		if err := json.Unmarshal(element, &item); err != nil || item == nil {
			rows = append(rows, scrapedRow{line: i + 1, malformed: true})
			continue
		}
		row := scrapedRow{line: i + 1, fields: make(map[string]string, len(item)), raw: item}
		for key, value := range item {
			if key == "EXTRACTED_FILES" {
				row.files = toStringList(value)
				continue
			}
			row.fields[key] = scalarString(value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSVRows(raw []byte) ([]scrapedRow, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []scrapedRow
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rows = append(rows, scrapedRow{line: line, malformed: true})
				continue
			}
			return nil, err
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				fields[name] = record[i]
			}
		}
		row := scrapedRow{line: line, fields: fields, raw: fields}
		if files := strings.TrimSpace(fields["EXTRACTED_FILES"]); files != "" {
			row.files = parseFileList(files)
		}
		delete(fields, "EXTRACTED_FILES")
		rows = append(rows, row)
	}
	return rows, nil
}

// parseFileList reads the list cell of the CSV output, written either as JSON
// or as a Python list literal.
func parseFileList(cell string) []string {
	var list []string
	if err := json.Unmarshal([]byte(cell), &list); err == nil {
		return list
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(cell, "'", `"`)), &list); err == nil {
		return list
	}
	return nil
}

func toStringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		if s, isString := v.(string); isString && s != "" {
			return parseFileList(s)
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(scalarString(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func scalarString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func parseImportDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range importDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseAmount accepts "1 234 567,89", "1234567.89", "1.234.567" and trailing
// currency labels. The last separator is decimal only when one or two digits
// follow it.
func parseAmount(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ',' || r == '.':
			b.WriteRune('.')
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}
	if idx := strings.LastIndex(cleaned, "."); idx >= 0 {
		if decimals := len(cleaned) - idx - 1; decimals >= 1 && decimals <= 2 {
			cleaned = strings.ReplaceAll(cleaned[:idx], ".", "") + cleaned[idx:]
		} else {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return amount, true
}

func sanitizeReference(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
