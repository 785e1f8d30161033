package model

import (
	"fmt"
	"sort"
	"strings"
)

// Row is a schema-agnostic record decoded from one upstream JSON object
type Row map[string]interface{}

// ResponseKind identifies which flavour of an endpoint a response came from
type ResponseKind string

const (
	KindIncidents            ResponseKind = "incidents"
	KindIncidentsCurrentYear ResponseKind = "incidents-current-year"
	KindOverview             ResponseKind = "overview"
)

// ResponseKinds lists every kind in the order the pipeline processes them
var ResponseKinds = []ResponseKind{KindIncidents, KindIncidentsCurrentYear, KindOverview}

// Valid reports whether k is a known response kind
func (k ResponseKind) Valid() bool {
	switch k {
	case KindIncidents, KindIncidentsCurrentYear, KindOverview:
		return true
	}
	return false
}

// IsIncidents is true for the incident-level kinds (full and current year)
func (k ResponseKind) IsIncidents() bool {
	return k == KindIncidents || k == KindIncidentsCurrentYear
}

// ParseResponseKind converts a metadata/config string into a ResponseKind
func ParseResponseKind(s string) (ResponseKind, error) {
	k := ResponseKind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", fmt.Errorf("unknown response kind %q", s)
	}
	return k, nil
}

// EndpointKey tags an endpoint response with its topic and kind
type EndpointKey struct {
	Topic string       `json:"topic"`
	Kind  ResponseKind `json:"kind"`
}

// String renders the key the way resources are named, e.g. "healthcare-incidents"
func (k EndpointKey) String() string {
	return k.Topic + "-" + string(k.Kind)
}

// EndpointResponse holds the rows fetched from one upstream URL
type EndpointResponse struct {
	Key          EndpointKey `json:"key"`
	URL          string      `json:"url"`
	Rows         []Row       `json:"rows"`
	DateField    string      `json:"date_field"`    // detected once per endpoint
	CountryField string      `json:"country_field"` // empty for endpoints without a country column
}

// Len returns the number of rows, tolerating a nil response
func (r *EndpointResponse) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Keys returns the sorted column names of the first row
func (r *EndpointResponse) Keys() []string {
	if r.Len() == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Rows[0]))
	for k := range r.Rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasField reports whether the first row carries the named column
func (r *EndpointResponse) HasField(name string) bool {
	if r.Len() == 0 {
		return false
	}
	_, ok := r.Rows[0][name]
	return ok
}

// ResponseCache is the set of endpoint responses fetched during one run.
// It is populated once by the fetch stage and only read afterwards.
type ResponseCache struct {
	responses map[EndpointKey]*EndpointResponse
}

// NewResponseCache builds a cache from already normalized responses
func NewResponseCache(responses ...*EndpointResponse) *ResponseCache {
	c := &ResponseCache{responses: make(map[EndpointKey]*EndpointResponse, len(responses))}
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		c.responses[resp.Key] = resp
	}
	return c
}

// Get returns the response for a topic/kind pair, or nil when it was not fetched
func (c *ResponseCache) Get(topic string, kind ResponseKind) *EndpointResponse {
	if c == nil {
		return nil
	}
	return c.responses[EndpointKey{Topic: topic, Kind: kind}]
}

// Len returns the number of cached responses
func (c *ResponseCache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.responses)
}

// DatasetCache holds the catalog descriptors read at the start of a run, keyed by dataset name
type DatasetCache struct {
	datasets map[string]*Dataset
}

// NewDatasetCache builds a cache from descriptors read from the catalog
func NewDatasetCache(datasets ...*Dataset) *DatasetCache {
	c := &DatasetCache{datasets: make(map[string]*Dataset, len(datasets))}
	for _, ds := range datasets {
		if ds == nil {
			continue
		}
		c.datasets[ds.Name] = ds
	}
	return c
}

// Get returns a copy of the cached descriptor so callers can modify it freely
func (c *DatasetCache) Get(name string) (*Dataset, bool) {
	if c == nil {
		return nil, false
	}
	ds, ok := c.datasets[name]
	if !ok {
		return nil, false
	}
	return ds.Clone(), true
}

// Len returns the number of cached descriptors
func (c *DatasetCache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.datasets)
}
