package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/pkg/utils"
)

//go:embed project_configuration.yaml
var defaultConfig []byte

// Config holds the project configuration for the Insecurity Insight pipeline.
type Config struct {
	// Upstream API
	BaseURL        string `yaml:"base_url"`
	UserAgent      string `yaml:"user_agent"`
	RequestTimeout string `yaml:"request_timeout"` // per HTTP call, e.g. "60s"
	RequestDelay   string `yaml:"request_delay"`   // pause between consecutive calls
	RetryDelay     string `yaml:"retry_delay"`     // sleep before the single retry on 503

	// Local paths
	OutputDir    string `yaml:"output_dir"`
	MetadataDir  string `yaml:"metadata_dir"` // empty uses the embedded metadata tables
	DatabasePath string `yaml:"database_path"`

	// Cron expression used by "pipeline schedule"
	Schedule string `yaml:"schedule"`

	// Redaction and typing policy
	RestrictedCountries []string `yaml:"restricted_countries"`
	TextColumns         []string `yaml:"text_columns"`
	OtherLocationCodes  []string `yaml:"other_location_codes"`

	HDX    HDXConfig    `yaml:"hdx"`
	Notify NotifyConfig `yaml:"notify"`
	API    APIConfig    `yaml:"api"`

	Topics          []Topic                    `yaml:"topics"`
	TopicKinds      []model.ResponseKind       `yaml:"topic_types"`
	Datasets        map[string]DatasetTemplate `yaml:"datasets"` // keyed by topic
	CountryDatasets CountryDatasets            `yaml:"country_datasets"`
}

// HDXConfig configures the catalog platform.
type HDXConfig struct {
	Site         string            `yaml:"site"`  // key into Sites
	Sites        map[string]string `yaml:"sites"` // site name -> base URL
	APIKey       string            `yaml:"-"`     // only from HDX_KEY
	Maintainer   string            `yaml:"maintainer"`
	Organization string            `yaml:"organization"`
	License      string            `yaml:"license"`
}

// NotifyConfig configures run-completion events. No brokers disables them.
type NotifyConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// APIConfig configures the run history API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Topic is a subject area with its own endpoints and dataset.
type Topic struct {
	Key        string `yaml:"key"`
	ProperName string `yaml:"proper_name"` // used in spreadsheet filenames
}

// DatasetTemplate carries the descriptive fields of a catalog dataset.
type DatasetTemplate struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Notes       string   `yaml:"notes"`
	Methodology string   `yaml:"methodology"`
	Caveats     string   `yaml:"caveats"`
	Tags        []string `yaml:"tags"`
}

// CountryDatasets describes the per-country aggregate datasets.
type CountryDatasets struct {
	// Name and Title may use {iso}, {ISO} and {country_name}
	Template  DatasetTemplate     `yaml:"template"`
	TopicTags map[string][]string `yaml:"topic_tags"`
	Countries []CountryDataset    `yaml:"countries"`
}

// CountryDataset lists the topics that contribute to one country's dataset.
type CountryDataset struct {
	ISO3   string   `yaml:"iso3"`
	Topics []string `yaml:"topics"`
}

// Load reads the configuration from path, or the embedded default when path is empty.
func Load(path string) (*Config, error) {
	data := defaultConfig
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes, overrides from the environment and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("HDX_KEY"); key != "" {
		c.HDX.APIKey = key
	}
	if site := os.Getenv("HDX_SITE"); site != "" {
		c.HDX.Site = site
	}
	if base := os.Getenv("II_BASE_URL"); base != "" {
		c.BaseURL = base
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Notify.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Notify.Brokers = append(c.Notify.Brokers, b)
			}
		}
	}
}

// Validate checks cross references between topics, datasets and countries.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic is required"))
	}
	seen := make(map[string]bool, len(c.Topics))
	for _, t := range c.Topics {
		if t.Key == "" || t.ProperName == "" {
			errs = append(errs, fmt.Errorf("topic %q needs a key and a proper_name", t.Key))
			continue
		}
		if seen[t.Key] {
			errs = append(errs, fmt.Errorf("duplicate topic %q", t.Key))
		}
		seen[t.Key] = true
		if tmpl, ok := c.Datasets[t.Key]; !ok || tmpl.Name == "" {
			errs = append(errs, fmt.Errorf("topic %q has no dataset template", t.Key))
		}
	}
	for _, k := range c.TopicKinds {
		if !k.Valid() {
			errs = append(errs, fmt.Errorf("unknown topic type %q", k))
		}
	}
	for _, cd := range c.CountryDatasets.Countries {
		if len(cd.ISO3) != 3 {
			errs = append(errs, fmt.Errorf("country dataset %q: iso3 must have three letters", cd.ISO3))
		}
		for _, t := range cd.Topics {
			if !seen[t] {
				errs = append(errs, fmt.Errorf("country dataset %s: unknown topic %q", cd.ISO3, t))
			}
		}
	}
	if len(c.CountryDatasets.Countries) > 0 && c.CountryDatasets.Template.Name == "" {
		errs = append(errs, errors.New("country_datasets.template.name is required"))
	}
	if _, ok := c.HDX.Sites[c.HDX.Site]; !ok {
		errs = append(errs, fmt.Errorf("hdx site %q is not configured", c.HDX.Site))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TopicKeys lists configured topic keys in order.
func (c *Config) TopicKeys() []string {
	keys := make([]string, 0, len(c.Topics))
	for _, t := range c.Topics {
		keys = append(keys, t.Key)
	}
	return keys
}

// Topic returns the configured topic with the given key.
func (c *Config) Topic(key string) (Topic, bool) {
	for _, t := range c.Topics {
		if t.Key == key {
			return t, true
		}
	}
	return Topic{}, false
}

// CountriesWithTopic returns the country datasets that include a topic.
func (c *Config) CountriesWithTopic(topic string) []CountryDataset {
	var out []CountryDataset
	for _, cd := range c.CountryDatasets.Countries {
		for _, t := range cd.Topics {
			if t == topic {
				out = append(out, cd)
				break
			}
		}
	}
	return out
}

// SiteURL returns the base URL of the selected HDX site.
func (c *Config) SiteURL() string {
	return c.HDX.Sites[c.HDX.Site]
}

// RequestTimeoutDuration is the per-call HTTP timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return utils.ParseDuration(c.RequestTimeout, 60*time.Second)
}

// RequestDelayDuration is the pause enforced between upstream calls.
func (c *Config) RequestDelayDuration() time.Duration {
	return utils.ParseDuration(c.RequestDelay, time.Second)
}

// RetryDelayDuration is the sleep before retrying a 503.
func (c *Config) RetryDelayDuration() time.Duration {
	return utils.ParseDuration(c.RetryDelay, 60*time.Second)
}
