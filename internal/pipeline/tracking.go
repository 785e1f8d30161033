package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/model"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunTracker accumulates the run report while the orchestrator works through its stages
type RunTracker struct {
	mu     sync.RWMutex
	report model.RunReport
	open   map[string]int // stage name -> index in report.Stages
	logger *zap.Logger
}

// NewRunTracker starts tracking a run
func NewRunTracker(runID, environment string, dryRun bool, logger *zap.Logger) *RunTracker {
	return &RunTracker{
		report: model.RunReport{
			RunID:       runID,
			Environment: environment,
			DryRun:      dryRun,
			StartTime:   time.Now(),
			Status:      StatusRunning,
			Endpoints:   make(map[string]model.EndpointMetrics),
			Errors:      make([]model.ErrorDetail, 0),
		},
		open:   make(map[string]int),
		logger: orNop(logger),
	}
}

// StartStage marks the beginning of a stage
func (t *RunTracker) StartStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.Stages = append(t.report.Stages, model.StageMetrics{StageName: stage, StartTime: time.Now()})
	t.open[stage] = len(t.report.Stages) - 1
	t.logger.Info("stage started", zap.String("stage", stage))
}

// EndStage closes a stage with the number of items it processed
func (t *RunTracker) EndStage(stage string, processed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.open[stage]
	if !ok {
		return
	}
	delete(t.open, stage)
	s := &t.report.Stages[idx]
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	s.Processed = processed
	t.logger.Info("stage completed",
		zap.String("stage", stage),
		zap.Int("processed", processed),
		zap.Int("errors", s.Errors),
		zap.Duration("duration", s.Duration))
}

// RecordError stores a recovered error against a stage
func (t *RunTracker) RecordError(stage, subject string, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.Errors = append(t.report.Errors, model.ErrorDetail{
		Timestamp: time.Now(),
		Stage:     stage,
		Subject:   subject,
		Message:   err.Error(),
	})
	if idx, ok := t.open[stage]; ok {
		t.report.Stages[idx].Errors++
	}
}

// RecordFetch stores the outcome of one endpoint request
func (t *RunTracker) RecordFetch(outcome FetchOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := outcome.Target.Key.String()
	m := model.EndpointMetrics{
		Endpoint:  name,
		FetchTime: outcome.Duration,
		Skipped:   outcome.Response == nil,
	}
	if outcome.Response != nil {
		m.URL = outcome.Response.URL
		m.Rows = outcome.Response.Len()
	}
	if outcome.Err != nil {
		m.LastError = outcome.Err.Error()
	}
	t.report.Endpoints[name] = m
}

// RecordNormalize stores the redaction counts of an endpoint
func (t *RunTracker) RecordNormalize(key model.EndpointKey, result NormalizeResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.report.Endpoints[key.String()]
	m.Endpoint = key.String()
	m.GeoRedacted = result.Location.Redacted
	m.TextBlanked = result.Description.Redacted
	t.report.Endpoints[key.String()] = m
}

// RecordUpdates stores the freshness decisions
func (t *RunTracker) RecordUpdates(updates []model.TopicUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.Updates = append([]model.TopicUpdate(nil), updates...)
	t.report.TopicsUpdated = len(updates)
}

// RecordPublished stores the name of a dataset handed to the catalog
func (t *RunTracker) RecordPublished(dataset string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Published = append(t.report.Published, dataset)
}

// RecordMissing stores a dataset that ended up with fewer resources than expected
func (t *RunTracker) RecordMissing(dataset string, count int) {
	if count == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Missing = append(t.report.Missing, model.MissingResources{Dataset: dataset, Count: count})
}

// Complete marks the run as finished and returns the final report
func (t *RunTracker) Complete() *model.RunReport {
	return t.finish(StatusCompleted)
}

// Fail marks the run as failed and returns the final report
func (t *RunTracker) Fail() *model.RunReport {
	return t.finish(StatusFailed)
}

func (t *RunTracker) finish(status string) *model.RunReport {
	t.mu.Lock()
	t.report.Status = status
	t.report.EndTime = time.Now()
	t.mu.Unlock()

	report := t.Report()
	t.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", status),
		zap.Int("topics_updated", report.TopicsUpdated),
		zap.Int("published", len(report.Published)),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", report.EndTime.Sub(report.StartTime)))
	return report
}

// Report returns a copy of the report so far
func (t *RunTracker) Report() *model.RunReport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := t.report
	r.Updates = append([]model.TopicUpdate(nil), t.report.Updates...)
	r.Published = append([]string(nil), t.report.Published...)
	r.Missing = append([]model.MissingResources(nil), t.report.Missing...)
	r.Stages = append([]model.StageMetrics(nil), t.report.Stages...)
	r.Errors = append([]model.ErrorDetail(nil), t.report.Errors...)
	r.Endpoints = make(map[string]model.EndpointMetrics, len(t.report.Endpoints))
	for k, v := range t.report.Endpoints {
		r.Endpoints[k] = v
	}
	return &r
}
