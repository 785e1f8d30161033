package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/metadata"
	"insecurity-insight-pipeline/internal/model"
)

// healthcareRow returns an incident row carrying every upstream key of the healthcare schema
func healthcareRow(date, iso string) model.Row {
	return model.Row{
		"Date":                          date,
		"Country":                       "Country " + iso,
		"Country ISO":                   iso,
		"Admin 1":                       "Region",
		"Latitude":                      9.05,
		"Longitude":                     7.49,
		"Geo Precision":                 "Exact",
		"Event Description":             "Armed men entered the clinic.",
		"Reported Perpetrator":          "Unknown",
		"Weapon Carried/Used":           "Firearm",
		"Health Workers Killed":         float64(1),
		"Health Workers Injured":        float64(0),
		"Health Workers Kidnapped":      float64(0),
		"Health Workers Arrested":       float64(2),
		"Health Facilities Damaged":     float64(1),
		"Health Transportation Damaged": float64(0),
		"SiND Event ID":                 "HC-" + date,
	}
}

func healthcareOverviewRow(year float64, iso string) model.Row {
	return model.Row{
		"Year":                      year,
		"Country":                   "Country " + iso,
		"Country ISO":               iso,
		"Total Incidents":           float64(12),
		"Health Workers Killed":     float64(3),
		"Health Facilities Damaged": float64(5),
	}
}

func incidentsResponse(topic string, rows ...model.Row) *model.EndpointResponse {
	return &model.EndpointResponse{
		Key:  model.EndpointKey{Topic: topic, Kind: model.KindIncidents},
		Rows: rows,
	}
}

func defaultMetadata(t *testing.T) *metadata.Catalog {
	t.Helper()
	c, err := metadata.Default()
	require.NoError(t, err)
	return c
}

// memorySource serves canned responses and counts requests per endpoint
type memorySource struct {
	responses map[model.EndpointKey][]model.Row
	errs      map[model.EndpointKey]error
	calls     map[model.EndpointKey]int
}

func newMemorySource() *memorySource {
	return &memorySource{
		responses: make(map[model.EndpointKey][]model.Row),
		errs:      make(map[model.EndpointKey]error),
		calls:     make(map[model.EndpointKey]int),
	}
}

func (s *memorySource) set(topic string, kind model.ResponseKind, rows ...model.Row) {
	s.responses[model.EndpointKey{Topic: topic, Kind: kind}] = rows
}

func (s *memorySource) Fetch(ctx context.Context, key model.EndpointKey, apiPath string) (*model.EndpointResponse, error) {
	s.calls[key]++
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	rows, ok := s.responses[key]
	if !ok || len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", key, ErrEmptyResponse)
	}
	// hand out copies so redaction never touches the fixture
	out := make([]model.Row, len(rows))
	for i, row := range rows {
		cp := make(model.Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return &model.EndpointResponse{Key: key, URL: "memory://" + apiPath, Rows: out}, nil
}
