package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/model"
)

var allKinds = []model.ResponseKind{model.KindIncidents, model.KindIncidentsCurrentYear, model.KindOverview}

func healthcareCache(incidents ...model.Row) *model.ResponseCache {
	return model.NewResponseCache(
		incidentsResponse("healthcare", incidents...),
		&model.EndpointResponse{
			Key:  model.EndpointKey{Topic: "healthcare", Kind: model.KindIncidentsCurrentYear},
			Rows: []model.Row{{"unexpected": "current-year is never compared"}},
		},
		&model.EndpointResponse{
			Key:  model.EndpointKey{Topic: "healthcare", Kind: model.KindOverview},
			Rows: []model.Row{healthcareOverviewRow(2023, "NGA")},
		},
	)
}

func TestCheckSchemas_Match(t *testing.T) {
	cache := healthcareCache(healthcareRow("2024-03-03", "NGA"))
	err := CheckSchemas(cache, []string{"healthcare"}, allKinds, defaultMetadata(t), nil)
	assert.NoError(t, err)
}

func TestCheckSchemas_Drift(t *testing.T) {
	row := healthcareRow("2024-03-03", "NGA")
	delete(row, "SiND Event ID")
	row["Event ID"] = "HC-1"

	err := CheckSchemas(healthcareCache(row), []string{"healthcare"}, allKinds, defaultMetadata(t), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaChanged))
	assert.True(t, IsSchemaChange(err))

	var changeErr *SchemaChangeError
	require.ErrorAs(t, err, &changeErr)
	require.Len(t, changeErr.Changed, 1)
	assert.Equal(t, SchemaDiff{
		Endpoint:     healthcareKey,
		OnlyInAPI:    []string{"Event ID"},
		OnlyInSample: []string{"SiND Event ID"},
	}, changeErr.Changed[0])
	assert.Contains(t, err.Error(), "healthcare-incidents")
}

func TestCheckSchemas_MissingResponsesAreNotDrift(t *testing.T) {
	err := CheckSchemas(model.NewResponseCache(), []string{"healthcare", "crsv"}, allKinds, defaultMetadata(t), nil)
	assert.NoError(t, err)
}

func TestSampleKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "healthcare-overview.json"),
		[]byte(`[{"Year": 2023, "Country ISO": "NGA", "Total": 4}]`), 0644))

	keys := SampleKeys{Dir: dir, Fallback: defaultMetadata(t)}
	assert.Equal(t, []string{"Country ISO", "Total", "Year"}, keys.ExpectedKeys("healthcare", model.KindOverview))
	assert.Contains(t, keys.ExpectedKeys("healthcare", model.KindIncidents), "SiND Event ID")
	assert.Nil(t, SampleKeys{Dir: dir}.ExpectedKeys("crsv", model.KindIncidents))
}
