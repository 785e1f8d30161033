package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/metadata"
	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/pkg/utils"
)

const (
	sheetName      = "Sheet1"
	dateCellFormat = "yyyy-mm-dd"
)

// SchemaSource supplies the ordered output columns of a topic and kind
type SchemaSource interface {
	Schema(topic string, kind model.ResponseKind) ([]metadata.Field, error)
}

// FilterRows keeps rows whose country equals country and whose date starts with year.
// An empty filter keeps everything; the two predicates are independent.
func FilterRows(rows []model.Row, dateField, countryField, country, year string) []model.Row {
	var out []model.Row
	for _, row := range rows {
		if country != "" && !strings.EqualFold(strings.TrimSpace(utils.ToText(row[countryField])), country) {
			continue
		}
		if year != "" {
			date := utils.ToText(row[dateField])
			if len(date) < 4 || date[:4] != year {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

// SpreadsheetFilename names an artifact after its topic, the years it covers and
// an optional country, e.g. "2020-2023-NGA Attacks on Health Care Incident Data.xlsx".
// The year range collapses to one year when it starts and ends in the same year;
// current-year artifacts always carry currentYear.
func SpreadsheetFilename(properName string, kind model.ResponseKind, country string, span model.Interval, currentYear int) string {
	label := "Incident"
	if kind == model.KindOverview {
		label = "Overview"
	}
	years := strconv.Itoa(span.Start.Year())
	if kind == model.KindIncidentsCurrentYear {
		years = strconv.Itoa(currentYear)
	} else if span.End.Year() != span.Start.Year() {
		years += "-" + strconv.Itoa(span.End.Year())
	}
	suffix := ""
	if country != "" {
		suffix = "-" + strings.ToUpper(country)
	}
	return fmt.Sprintf("%s%s %s %s Data.xlsx", years, suffix, properName, label)
}

// SpreadsheetRequest selects the slice of a response written to one artifact
type SpreadsheetRequest struct {
	ProperName  string
	Country     string // ISO3; empty writes every country
	Year        string // four digits; empty writes every year
	CurrentYear int
}

// ExportResult represents one written spreadsheet
type ExportResult struct {
	Endpoint   model.EndpointKey `json:"endpoint"`
	Country    string            `json:"country,omitempty"`
	Path       string            `json:"path"`
	Rows       int               `json:"rows"`
	Span       model.Interval    `json:"span"` // dates of the rows written
	ExportedAt time.Time         `json:"exported_at"`
}

// Builder writes typed spreadsheets from normalized responses
type Builder struct {
	Schemas     SchemaSource
	TextColumns []string // always written as text whatever their declared type
	OutputDir   string
	Logger      *zap.Logger
}

func (b *Builder) isText(column string) bool {
	for _, c := range b.TextColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Build filters resp and writes the surviving rows. It returns nil and no error when
// no rows survive, in which case the caller skips the artifact.
func (b *Builder) Build(resp *model.EndpointResponse, req SpreadsheetRequest) (*ExportResult, error) {
	logger := orNop(b.Logger).With(zap.Stringer("endpoint", resp.Key), zap.String("country", req.Country))
	if req.Year == "" && resp.Key.Kind == model.KindIncidentsCurrentYear {
		req.Year = strconv.Itoa(req.CurrentYear)
	}

	dateField, countryField := resp.DateField, resp.CountryField
	if dateField == "" && resp.Len() > 0 {
		dateField, countryField = DetectFields(resp.Rows[0])
	}
	if req.Country != "" && countryField == "" {
		return nil, fmt.Errorf("%s has no country column to filter on", resp.Key)
	}

	rows := FilterRows(resp.Rows, dateField, countryField, req.Country, req.Year)
	if len(rows) == 0 {
		logger.Info("API response contained no data for filter", zap.String("year", req.Year))
		return nil, nil
	}
	span, err := DateRange(&model.EndpointResponse{Key: resp.Key, Rows: rows, DateField: dateField})
	if err != nil {
		return nil, err
	}

	fields, err := b.Schemas.Schema(resp.Key.Topic, resp.Key.Kind)
	if err != nil {
		return nil, err
	}
	name := SpreadsheetFilename(req.ProperName, resp.Key.Kind, req.Country, span, req.CurrentYear)
	path := filepath.Join(b.OutputDir, name)
	if err := os.MkdirAll(b.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := b.write(path, fields, rows, logger); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}

	logger.Info("wrote spreadsheet", zap.String("file", name), zap.Int("rows", len(rows)))
	return &ExportResult{
		Endpoint:   resp.Key,
		Country:    strings.ToUpper(req.Country),
		Path:       path,
		Rows:       len(rows),
		Span:       span,
		ExportedAt: time.Now(),
	}, nil
}

func (b *Builder) write(path string, fields []metadata.Field, rows []model.Row, logger *zap.Logger) error {
	f := excelize.NewFile()
	defer f.Close()

	format := dateCellFormat
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(fields))
	for i, field := range fields {
		header[i] = field.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for n, row := range rows {
		values := make([]interface{}, len(fields))
		for i, field := range fields {
			v, err := b.cellValue(field, row, dateStyle)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", n, field.Name, err)
			}
			values[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// cellValue projects one source value into its typed output cell. Blank values are null.
func (b *Builder) cellValue(field metadata.Field, row model.Row, dateStyle int) (interface{}, error) {
	if field.Upstream == "" {
		return nil, nil
	}
	raw := row[field.Upstream]
	if utils.IsBlank(raw) {
		return nil, nil
	}
	if b.isText(field.Name) {
		return utils.ToText(raw), nil
	}

	switch field.Type {
	case metadata.FieldDate:
		d, err := model.DateValue(raw)
		if err != nil {
			return nil, err
		}
		return excelize.Cell{StyleID: dateStyle, Value: d}, nil
	case metadata.FieldNumeric:
		if n, err := utils.ToInt64(raw); err == nil {
			return n, nil
		}
	case metadata.FieldFloat:
		if x, err := utils.ToFloat64(raw); err == nil {
			return x, nil
		}
	}
	// text, or a numeric column holding something that is not a number
	return utils.ToText(raw), nil
}

// Sheet is the raw content of a spreadsheet artifact
type Sheet struct {
	Header []string
	Rows   [][]string
}

// ReadSpreadsheet loads the first sheet of an artifact. Date cells come back as
// spreadsheet serial numbers; use Dates to convert them.
func ReadSpreadsheet(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &Sheet{}, nil
	}
	return &Sheet{Header: rows[0], Rows: rows[1:]}, nil
}

// Column returns the index of a header, or -1
func (s *Sheet) Column(name string) int {
	for i, h := range s.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Dates converts a date column back to dates. Blank cells become the zero time.
func (s *Sheet) Dates(column string) ([]time.Time, error) {
	idx := s.Column(column)
	if idx < 0 {
		return nil, fmt.Errorf("no column %q", column)
	}
	out := make([]time.Time, len(s.Rows))
	for i, row := range s.Rows {
		if idx >= len(row) || row[idx] == "" {
			continue
		}
		serial, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %q is not a date serial", i, row[idx])
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return nil, err
		}
		out[i] = t.UTC()
	}
	return out, nil
}

// DateSpan returns the earliest and latest dates of a column
func (s *Sheet) DateSpan(column string) (model.Interval, error) {
	dates, err := s.Dates(column)
	if err != nil {
		return model.Interval{}, err
	}
	var span model.Interval
	for _, d := range dates {
		if !d.IsZero() {
			span = span.Union(model.NewInterval(d, d))
		}
	}
	if span.IsEmpty() {
		return span, ErrNoDateInfo
	}
	return span, nil
}
