package pipeline

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/metadata"
	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/pkg/utils"
)

// Tokens substituted in resource descriptions
const (
	tokenToDate      = "[to date]"
	tokenCurrentYear = "[current year]"
	tokenCountry     = "[country]"

	humanDateLayout = "02 January 2006"
)

// CountryGroups returns the distinct lower-cased country codes of a response. Codes listed
// in otherLocations have no country status on the platform and are returned separately.
func CountryGroups(resp *model.EndpointResponse, otherLocations []string) (groups, other []string) {
	if resp.Len() == 0 {
		return nil, nil
	}
	field := resp.CountryField
	if field == "" {
		_, field = DetectFields(resp.Rows[0])
	}
	if field == "" {
		return nil, nil
	}
	codes := make([]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		codes = append(codes, utils.ToText(row[field]))
	}
	return SplitLocations(codes, otherLocations)
}

// SplitLocations lower-cases, dedupes and sorts codes, moving other-location codes aside
func SplitLocations(codes, otherLocations []string) (groups, other []string) {
	special := make(map[string]bool, len(otherLocations))
	for _, c := range otherLocations {
		special[strings.ToLower(c)] = true
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if special[c] {
			other = append(other, c)
		} else {
			groups = append(groups, c)
		}
	}
	sort.Strings(groups)
	sort.Strings(other)
	return groups, other
}

// MergeTags unions tag lists and sorts the result so repeated runs produce the same order
func MergeTags(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// RenderDescription substitutes the description tokens. When end is unknown the
// [to date] token uses now and fellBack is true.
func RenderDescription(text string, end time.Time, countryName string, now time.Time) (rendered string, fellBack bool) {
	if strings.Contains(text, tokenToDate) {
		if end.IsZero() {
			end, fellBack = now, true
		}
		text = strings.ReplaceAll(text, tokenToDate, end.Format(humanDateLayout))
	}
	text = strings.ReplaceAll(text, tokenCurrentYear, strconv.Itoa(now.Year()))
	if countryName != "" {
		text = strings.ReplaceAll(text, tokenCountry, countryName)
	}
	return text, fellBack
}

// RenderCountryTemplate fills {iso}, {ISO} and {country_name} in a country dataset template
func RenderCountryTemplate(tmpl config.DatasetTemplate, iso3, countryName string) config.DatasetTemplate {
	r := strings.NewReplacer(
		"{iso}", strings.ToLower(iso3),
		"{ISO}", strings.ToUpper(iso3),
		"{country_name}", countryName,
	)
	out := tmpl
	out.Name = r.Replace(tmpl.Name)
	out.Title = r.Replace(tmpl.Title)
	out.Notes = r.Replace(tmpl.Notes)
	out.Tags = append([]string(nil), tmpl.Tags...)
	return out
}

// SlotResult pairs a resource slot with the spreadsheet produced for it, if any
type SlotResult struct {
	Slot   metadata.Resource
	Export *ExportResult // nil when the builder produced nothing
}

// AssembleRequest carries everything needed to build one dataset descriptor
type AssembleRequest struct {
	Template       config.DatasetTemplate
	Existing       *model.Dataset // cached descriptor, nil on first publish
	Date           model.Interval
	Groups         []string
	OtherLocations []string
	Tags           []string // merged with the template tags
	CountryName    string   // fills [country] in descriptions
	Slots          []SlotResult
}

// Assembler builds catalog descriptors ready to publish
type Assembler struct {
	Maintainer   string
	Organization string
	License      string
	Now          func() time.Time
	Logger       *zap.Logger
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Assemble merges the request into the cached descriptor (or a fresh one) and returns it with
// the number of slots that produced no spreadsheet. A missing slot never fails the dataset.
// Generated resources come first in slot order, followed by any other existing resources.
func (a *Assembler) Assemble(req AssembleRequest) (*model.Dataset, int) {
	logger := orNop(a.Logger).With(zap.String("dataset", req.Template.Name))

	ds := req.Existing.Clone()
	if ds == nil {
		ds = &model.Dataset{}
	}
	ds.Name = req.Template.Name
	if req.Template.Title != "" {
		ds.Title = req.Template.Title
	}
	if req.Template.Notes != "" {
		ds.Notes = req.Template.Notes
	}
	if req.Template.Methodology != "" {
		ds.Methodology = req.Template.Methodology
	}
	if req.Template.Caveats != "" {
		ds.Caveats = req.Template.Caveats
	}
	ds.Tags = MergeTags(req.Template.Tags, req.Tags)
	ds.DatasetDate = req.Date.String()
	ds.Groups = append([]string(nil), req.Groups...)
	ds.OtherLocations = append([]string(nil), req.OtherLocations...)
	ds.License = a.License
	ds.Maintainer = a.Maintainer
	ds.Organization = a.Organization

	existing := make(map[string]model.Resource, len(ds.Resources))
	for _, r := range ds.Resources {
		existing[r.Name] = r
	}

	var generated []model.Resource
	missing := 0
	for _, slot := range req.Slots {
		if slot.Export == nil {
			missing++
			logger.Info("no spreadsheet for resource", zap.String("resource", slot.Slot.Name))
			continue
		}
		name := filepath.Base(slot.Export.Path)
		description, fellBack := RenderDescription(slot.Slot.Description, a.resourceEnd(slot.Export, logger), req.CountryName, a.now())
		if fellBack {
			logger.Warn("no end date for resource description, using current date", zap.String("resource", name))
		}
		res := model.Resource{
			ID:          existing[name].ID,
			Name:        name,
			Description: description,
			Format:      slot.Slot.Format,
			FilePath:    slot.Export.Path,
		}
		if res.Format == "" {
			res.Format = utils.FileType(name)
		}
		generated = append(generated, res)
	}

	resources := generated
	for _, r := range ds.Resources {
		if !containsResource(generated, r.Name) {
			resources = append(resources, r)
		}
	}
	ds.Resources = resources

	logger.Info("assembled dataset",
		zap.String("dataset_date", ds.DatasetDate),
		zap.Int("resources", len(generated)),
		zap.Int("missing", missing),
		zap.Strings("groups", ds.Groups))
	return ds, missing
}

// resourceEnd is the last date covered by an artifact, read back from the file when the
// builder did not record it
func (a *Assembler) resourceEnd(exp *ExportResult, logger *zap.Logger) time.Time {
	if !exp.Span.OpenEnd() {
		return exp.Span.End
	}
	sheet, err := ReadSpreadsheet(exp.Path)
	if err != nil {
		logger.Warn("cannot read spreadsheet", zap.String("path", exp.Path), zap.Error(err))
		return time.Time{}
	}
	for _, column := range dateFieldCandidates {
		if sheet.Column(column) < 0 {
			continue
		}
		if span, err := sheet.DateSpan(column); err == nil {
			return span.End
		}
	}
	return time.Time{}
}

func containsResource(resources []model.Resource, name string) bool {
	for _, r := range resources {
		if r.Name == name {
			return true
		}
	}
	return false
}
