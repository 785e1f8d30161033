package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/model"
)

// ErrSchemaChanged is wrapped by SchemaChangeError
var ErrSchemaChanged = errors.New("one or more of the Insecurity Insight endpoints has changed format")

// KeySource supplies the column names an endpoint is expected to return
type KeySource interface {
	ExpectedKeys(topic string, kind model.ResponseKind) []string
}

// SampleKeys reads expected keys from the first row of saved sample responses,
// falling back when no sample exists for an endpoint.
type SampleKeys struct {
	Dir      string
	Fallback KeySource
}

// ExpectedKeys returns the sorted keys of the sample for topic and kind
func (s SampleKeys) ExpectedKeys(topic string, kind model.ResponseKind) []string {
	key := model.EndpointKey{Topic: topic, Kind: kind}
	sample, err := DirSource{Dir: s.Dir}.Fetch(context.Background(), key, "")
	if err != nil {
		if s.Fallback == nil {
			return nil
		}
		return s.Fallback.ExpectedKeys(topic, kind)
	}
	return sample.Keys()
}

// SchemaDiff describes one endpoint whose columns drifted
type SchemaDiff struct {
	Endpoint     model.EndpointKey `json:"endpoint"`
	OnlyInAPI    []string          `json:"only_in_api"`
	OnlyInSample []string          `json:"only_in_sample"`
}

// SchemaChangeError lists every endpoint whose columns differ from the expected schema
type SchemaChangeError struct {
	Changed []SchemaDiff
}

func (e *SchemaChangeError) Error() string {
	names := make([]string, 0, len(e.Changed))
	for _, d := range e.Changed {
		names = append(names, d.Endpoint.String())
	}
	return fmt.Sprintf("%v: %s", ErrSchemaChanged, strings.Join(names, ", "))
}

func (e *SchemaChangeError) Unwrap() error { return ErrSchemaChanged }

// CheckSchemas compares the first-row keys of every fetched response with the expected keys.
// Current-year responses share the incidents schema and are skipped. Responses that are
// missing or empty cannot be compared and are only logged. Any mismatch returns a
// *SchemaChangeError so the run stops before anything is written.
func CheckSchemas(cache *model.ResponseCache, topics []string, kinds []model.ResponseKind, expected KeySource, logger *zap.Logger) error {
	logger = orNop(logger)
	var changed []SchemaDiff
	for _, topic := range topics {
		for _, kind := range kinds {
			if kind == model.KindIncidentsCurrentYear {
				continue
			}
			key := model.EndpointKey{Topic: topic, Kind: kind}
			resp := cache.Get(topic, kind)
			if resp.Len() == 0 {
				logger.Error("cannot compare", zap.Stringer("endpoint", key))
				continue
			}
			want := expected.ExpectedKeys(topic, kind)
			if len(want) == 0 {
				logger.Warn("no expected schema, cannot compare", zap.Stringer("endpoint", key))
				continue
			}

			diff := SchemaDiff{
				Endpoint:     key,
				OnlyInAPI:    difference(resp.Keys(), want),
				OnlyInSample: difference(want, resp.Keys()),
			}
			if len(diff.OnlyInAPI) == 0 && len(diff.OnlyInSample) == 0 {
				continue
			}
			logger.Info("mismatch between API and sample",
				zap.Stringer("endpoint", key),
				zap.Strings("only_in_api", diff.OnlyInAPI),
				zap.Strings("only_in_sample", diff.OnlyInSample),
			)
			changed = append(changed, diff)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	for _, d := range changed {
		logger.Error("changed API endpoint", zap.Stringer("endpoint", d.Endpoint))
	}
	return &SchemaChangeError{Changed: changed}
}

// difference returns the sorted members of a that are not in b
func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
