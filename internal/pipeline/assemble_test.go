package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/config"
	"insecurity-insight-pipeline/internal/metadata"
	"insecurity-insight-pipeline/internal/model"
)

func TestCountryGroups(t *testing.T) {
	resp := incidentsResponse("healthcare",
		healthcareRow("2024-01-01", "SYR"),
		healthcareRow("2024-01-02", "NGA"),
		healthcareRow("2024-01-03", "XKX"),
		healthcareRow("2024-01-04", "nga"),
		healthcareRow("2024-01-05", ""),
	)
	groups, other := CountryGroups(resp, []string{"xkx"})
	assert.Equal(t, []string{"nga", "syr"}, groups)
	assert.Equal(t, []string{"xkx"}, other)

	groups, other = CountryGroups(nil, []string{"xkx"})
	assert.Empty(t, groups)
	assert.Empty(t, other)
}

func TestMergeTags(t *testing.T) {
	got := MergeTags([]string{"health", "conflict-violence"}, []string{"conflict-violence", " education ", ""})
	assert.Equal(t, []string{"conflict-violence", "education", "health"}, got)
}

func TestRenderDescription(t *testing.T) {
	now := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

	got, fellBack := RenderDescription("Data in [country] up to [to date] for [current year].", date("2024-03-06"), "Nigeria", now)
	assert.Equal(t, "Data in Nigeria up to 06 March 2024 for 2024.", got)
	assert.False(t, fellBack)

	got, fellBack = RenderDescription("Updated to [to date].", time.Time{}, "", now)
	assert.Equal(t, "Updated to 07 March 2024.", got)
	assert.True(t, fellBack)

	got, fellBack = RenderDescription("Yearly totals.", time.Time{}, "", now)
	assert.Equal(t, "Yearly totals.", got)
	assert.False(t, fellBack)
}

func TestRenderCountryTemplate(t *testing.T) {
	tmpl := config.DatasetTemplate{
		Name:  "insecurity-insight-{iso}-dataset",
		Title: "{country_name} ({ISO}): Attacks on Aid Operations",
		Tags:  []string{"conflict-violence"},
	}
	got := RenderCountryTemplate(tmpl, "nga", "Nigeria")
	assert.Equal(t, "insecurity-insight-nga-dataset", got.Name)
	assert.Equal(t, "Nigeria (NGA): Attacks on Aid Operations", got.Title)

	got.Tags[0] = "changed"
	assert.Equal(t, "conflict-violence", tmpl.Tags[0])
}

func TestAssembler_Assemble(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	a := &Assembler{
		Maintainer:   "maintainer-id",
		Organization: "org-id",
		License:      "cc-by-sa",
		Now:          func() time.Time { return now },
	}
	slots := defaultMetadata(t).Resources(metadata.ScopeTopic, "healthcare")
	require.Len(t, slots, 3)

	incidents := &ExportResult{
		Path: filepath.Join(dir, "2020-2024 Attacks on Health Care Incident Data.xlsx"),
		Span: model.NewInterval(date("2020-01-01"), date("2024-03-06")),
	}
	overview := &ExportResult{
		Path: filepath.Join(dir, "2020-2024 Attacks on Health Care Overview Data.xlsx"),
		Span: model.NewInterval(date("2020-01-01"), date("2024-01-01")),
	}
	existing := &model.Dataset{
		ID:          "ds-1",
		Name:        "insecurity-insight-healthcare-dataset",
		Title:       "Old title",
		DatasetDate: "[2020-01-01T00:00:00 TO 2023-10-17T23:59:59]",
		Resources: []model.Resource{
			{ID: "r-legacy", Name: "Methodology.pdf", Format: "PDF"},
			{ID: "r-inc", Name: "2020-2024 Attacks on Health Care Incident Data.xlsx", Format: "XLSX"},
		},
	}

	ds, missing := a.Assemble(AssembleRequest{
		Template: config.DatasetTemplate{
			Name:  "insecurity-insight-healthcare-dataset",
			Title: "Attacks on Health Care",
			Tags:  []string{"health", "conflict-violence"},
		},
		Existing: existing,
		Date:     model.NewInterval(date("2020-01-01"), date("2024-03-06")),
		Groups:   []string{"nga", "syr"},
		Slots: []SlotResult{
			{Slot: slots[0], Export: incidents},
			{Slot: slots[1]}, // no current-year rows
			{Slot: slots[2], Export: overview},
		},
	})

	assert.Equal(t, 1, missing)
	assert.Equal(t, "ds-1", ds.ID)
	assert.Equal(t, "Attacks on Health Care", ds.Title)
	assert.Equal(t, "[2020-01-01T00:00:00 TO 2024-03-06T23:59:59]", ds.DatasetDate)
	assert.Equal(t, []string{"conflict-violence", "health"}, ds.Tags)
	assert.Equal(t, []string{"nga", "syr"}, ds.Groups)
	assert.Equal(t, "cc-by-sa", ds.License)

	assert.Equal(t, []string{
		"2020-2024 Attacks on Health Care Incident Data.xlsx",
		"2020-2024 Attacks on Health Care Overview Data.xlsx",
		"Methodology.pdf",
	}, ds.ResourceNames())
	assert.Equal(t, "r-inc", ds.Resources[0].ID, "existing resource id is reused")
	assert.Equal(t, incidents.Path, ds.Resources[0].FilePath)
	assert.Contains(t, ds.Resources[0].Description, "06 March 2024")
	assert.Equal(t, "XLSX", ds.Resources[1].Format)

	assert.Equal(t, "Old title", existing.Title, "cached descriptor is not modified")
}
