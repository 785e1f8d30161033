package model

import "time"

// TopicUpdate is one freshness decision: the topic must be regenerated with this interval
type TopicUpdate struct {
	Topic  string    `json:"topic"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"` // "newer", "backfill", "forced", "unpublished"
}

// Interval returns the resolved dates as an Interval
func (u TopicUpdate) Interval() Interval {
	return NewInterval(u.Start, u.End)
}

// MissingResources counts resource slots of a dataset that produced no spreadsheet
type MissingResources struct {
	Dataset string `json:"dataset"`
	Count   int    `json:"count"`
}

// StageMetrics represents timing for a specific pipeline stage
type StageMetrics struct {
	StageName string        `json:"stage_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Errors    int           `json:"errors"`
}

// EndpointMetrics represents what happened to one upstream endpoint
type EndpointMetrics struct {
	Endpoint    string        `json:"endpoint"`
	URL         string        `json:"url"`
	Rows        int           `json:"rows"`
	GeoRedacted int           `json:"geo_redacted"`
	TextBlanked int           `json:"text_blanked"`
	FetchTime   time.Duration `json:"fetch_time"`
	Skipped     bool          `json:"skipped"`
	LastError   string        `json:"last_error,omitempty"`
}

// ErrorDetail represents a recovered error with context
type ErrorDetail struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Subject   string    `json:"subject,omitempty"` // endpoint, topic or dataset name
	Message   string    `json:"message"`
}

// RunReport is the structured summary emitted at the end of every run
type RunReport struct {
	RunID         string                     `json:"run_id"`
	Environment   string                     `json:"environment"`
	DryRun        bool                       `json:"dry_run"`
	StartTime     time.Time                  `json:"start_time"`
	EndTime       time.Time                  `json:"end_time"`
	Status        string                     `json:"status"` // "completed", "failed"
	TopicsUpdated int                        `json:"topics_updated"`
	Updates       []TopicUpdate              `json:"updates"`
	Published     []string                   `json:"published"`
	Missing       []MissingResources         `json:"missing"`
	Stages        []StageMetrics             `json:"stages"`
	Endpoints     map[string]EndpointMetrics `json:"endpoints"`
	Errors        []ErrorDetail              `json:"errors"`
}
