package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/model"
)

func TestLoad_Default(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Len(t, cfg.Topics, 7)
	assert.Equal(t, []model.ResponseKind{
		model.KindIncidents, model.KindIncidentsCurrentYear, model.KindOverview,
	}, cfg.TopicKinds)
	assert.Len(t, cfg.CountryDatasets.Countries, 25)
	assert.Equal(t, []string{"PSE"}, cfg.RestrictedCountries)
	assert.Equal(t, "https://stage.data-humdata-org.ahconu.org", cfg.SiteURL())

	topic, ok := cfg.Topic("healthcare")
	require.True(t, ok)
	assert.Equal(t, "Attacks on Health Care", topic.ProperName)
	assert.Equal(t, "insecurity-insight-healthcare-dataset", cfg.Datasets["healthcare"].Name)
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.RequestTimeoutDuration())
	assert.Equal(t, 2*time.Second, cfg.RequestDelayDuration())
	assert.Equal(t, 60*time.Second, cfg.RetryDelayDuration())

	cfg.RequestDelay = "not-a-duration"
	assert.Equal(t, time.Second, cfg.RequestDelayDuration())
}

func TestCountriesWithTopic(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	var isos []string
	for _, cd := range cfg.CountriesWithTopic("crsv") {
		isos = append(isos, cd.ISO3)
	}
	assert.Contains(t, isos, "NGA")
	assert.NotContains(t, isos, "IRN")
	assert.Len(t, cfg.CountriesWithTopic("healthcare"), 25)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("HDX_KEY and HDX_SITE", func(t *testing.T) {
		t.Setenv("HDX_KEY", "secret")
		t.Setenv("HDX_SITE", "prod")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "secret", cfg.HDX.APIKey)
		assert.Equal(t, "https://data.humdata.org", cfg.SiteURL())
	})

	t.Run("unknown site fails validation", func(t *testing.T) {
		t.Setenv("HDX_SITE", "nowhere")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `hdx site "nowhere"`)
	})

	t.Run("KAFKA_BROKERS is split", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Notify.Brokers)
	})
}

func TestParse_ValidationErrors(t *testing.T) {
	doc := `
base_url: http://example.test/
topics:
  - key: healthcare
    proper_name: Attacks on Health Care
  - key: healthcare
    proper_name: Again
topic_types: [incidents, weekly]
datasets:
  healthcare:
    name: insecurity-insight-healthcare-dataset
country_datasets:
  template:
    name: insecurity-insight-{iso}-dataset
  countries:
    - {iso3: NG, topics: [education]}
hdx:
  site: stage
  sites:
    stage: http://stage.test
schedule: "every morning"
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `duplicate topic "healthcare"`)
	assert.Contains(t, msg, `unknown topic type "weekly"`)
	assert.Contains(t, msg, "iso3 must have three letters")
	assert.Contains(t, msg, `unknown topic "education"`)
	assert.Contains(t, msg, "schedule:")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, defaultConfig, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.TopicKeys()[0], "aidworker")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
