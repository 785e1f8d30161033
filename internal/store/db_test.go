package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/model"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(s string) time.Time {
	d, _ := time.Parse(model.DateLayout, s)
	return d
}

func sampleReport(id string, started time.Time) *model.RunReport {
	return &model.RunReport{
		RunID:         id,
		Environment:   "stage",
		StartTime:     started,
		EndTime:       started.Add(time.Minute),
		Status:        "completed",
		TopicsUpdated: 1,
		Updates: []model.TopicUpdate{
			{Topic: "healthcare", Start: date("2024-03-03"), End: date("2024-03-06"), Reason: "newer"},
		},
		Missing: []model.MissingResources{{Dataset: "insecurity-insight-irn-dataset", Count: 1}},
		Errors: []model.ErrorDetail{
			{Timestamp: started, Stage: "fetch", Subject: "crsv-overview", Message: "unexpected status 500"},
		},
		Endpoints: map[string]model.EndpointMetrics{},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTest(t)
	started := time.Date(2024, 3, 6, 5, 0, 0, 0, time.UTC)
	report := sampleReport("run-1", started)

	require.NoError(t, s.SaveRun(report))

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, report.Updates, got.Updates)
	assert.Equal(t, report.Missing, got.Missing)

	errs, err := s.RunErrors("run-1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "crsv-overview", errs[0].Subject)

	_, err = s.GetRun("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	_, err = s.RunErrors("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestSaveRun_ReplacesChildRows(t *testing.T) {
	s := openTest(t)
	report := sampleReport("run-1", time.Now().UTC())
	report.Status = "running"
	report.EndTime = time.Time{}
	require.NoError(t, s.SaveRun(report))

	report.Status = "completed"
	report.EndTime = report.StartTime.Add(time.Second)
	require.NoError(t, s.SaveRun(report))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 1, runs[0].ErrorCount)
	require.NotNil(t, runs[0].FinishedAt)

	history, err := s.TopicHistory("healthcare")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestListRuns_MostRecentFirst(t *testing.T) {
	s := openTest(t)
	base := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(sampleReport(id, base.AddDate(0, 0, i))))
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	history, err := s.TopicHistory("healthcare")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, date("2024-03-06"), history[0].End)
}
