package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/pkg/utils"
)

// Columns touched by the redaction passes
const (
	FieldLatitude     = "Latitude"
	FieldLongitude    = "Longitude"
	FieldGeoPrecision = "Geo Precision"
	FieldDescription  = "Event Description"

	CensoredMarker = "censored"
)

// Candidate names in preference order; schemas differ slightly per endpoint
var (
	dateFieldCandidates    = []string{"Date", "Year", "date", "year"}
	countryFieldCandidates = []string{"Country ISO", "country_iso"}
)

// DetectFields picks the date and country ISO columns of an endpoint from one of its rows.
// Either result is empty when no candidate is present.
func DetectFields(row model.Row) (dateField, countryField string) {
	for _, name := range dateFieldCandidates {
		if _, ok := row[name]; ok {
			dateField = name
			break
		}
	}
	for _, name := range countryFieldCandidates {
		if _, ok := row[name]; ok {
			countryField = name
			break
		}
	}
	return dateField, countryField
}

// RedactionStats reports how many rows a redaction pass changed
type RedactionStats struct {
	Redacted int `json:"redacted"`
	Total    int `json:"total"`
}

// CensorLocation blanks coordinates of rows whose country is restricted and marks their
// precision as censored. Responses without coordinate columns are left untouched.
func CensorLocation(resp *model.EndpointResponse, restricted []string) RedactionStats {
	stats := RedactionStats{Total: resp.Len()}
	if resp.Len() == 0 || !(resp.HasField(FieldLatitude) || resp.HasField(FieldLongitude)) {
		return stats
	}
	countryField := resp.CountryField
	if countryField == "" {
		_, countryField = DetectFields(resp.Rows[0])
	}
	if countryField == "" {
		return stats
	}

	blocked := make(map[string]bool, len(restricted))
	for _, iso := range restricted {
		blocked[strings.ToUpper(strings.TrimSpace(iso))] = true
	}
	hasPrecision := resp.HasField(FieldGeoPrecision)

	for _, row := range resp.Rows {
		iso := strings.ToUpper(strings.TrimSpace(utils.ToText(row[countryField])))
		if !blocked[iso] {
			continue
		}
		if _, ok := row[FieldLatitude]; ok {
			row[FieldLatitude] = nil
		}
		if _, ok := row[FieldLongitude]; ok {
			row[FieldLongitude] = nil
		}
		if hasPrecision {
			row[FieldGeoPrecision] = CensoredMarker
		}
		stats.Redacted++
	}
	return stats
}

// CensorEventDescription sets the narrative column to "" on every row.
// Redacted counts rows that still carried text.
func CensorEventDescription(resp *model.EndpointResponse) RedactionStats {
	stats := RedactionStats{Total: resp.Len()}
	if !resp.HasField(FieldDescription) {
		return stats
	}
	for _, row := range resp.Rows {
		if !utils.IsBlank(row[FieldDescription]) {
			stats.Redacted++
		}
		row[FieldDescription] = ""
	}
	return stats
}

// trimStrings strips surrounding whitespace from every string value
func trimStrings(resp *model.EndpointResponse) {
	for _, row := range resp.Rows {
		for key, val := range row {
			if str, ok := val.(string); ok {
				row[key] = strings.TrimSpace(str)
			}
		}
	}
}

// NormalizeResult summarizes one endpoint's normalization
type NormalizeResult struct {
	Location    RedactionStats
	Description RedactionStats
}

// Normalizer prepares fetched responses for publication
type Normalizer struct {
	Restricted []string
	Logger     *zap.Logger
}

// Normalize detects the date and country columns and applies both redaction passes in place
func (n *Normalizer) Normalize(resp *model.EndpointResponse) NormalizeResult {
	logger := orNop(n.Logger)
	if resp.Len() == 0 {
		return NormalizeResult{}
	}

	resp.DateField, resp.CountryField = DetectFields(resp.Rows[0])
	if resp.DateField == "" {
		logger.Warn("no date column found", zap.Stringer("endpoint", resp.Key))
	}

	trimStrings(resp)
	result := NormalizeResult{
		Location:    CensorLocation(resp, n.Restricted),
		Description: CensorEventDescription(resp),
	}
	logger.Info("normalized response",
		zap.Stringer("endpoint", resp.Key),
		zap.String("date_field", resp.DateField),
		zap.String("country_field", resp.CountryField),
		zap.Int("rows", resp.Len()),
		zap.Int("geo_redacted", result.Location.Redacted),
		zap.Int("description_blanked", result.Description.Redacted),
	)
	return result
}
