package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/model"
)

var healthcareKey = model.EndpointKey{Topic: "healthcare", Kind: model.KindIncidents}

func fastRetry() RetryPolicy {
	p := DefaultRetryPolicy
	p.Delay = 10 * time.Millisecond
	return p
}

func TestHTTPSource_RetriesOnceOn503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/healthcare", r.URL.Path)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"Date":"2024-03-03","Country ISO":"NGA"},{"Date":"2024-03-06","Country ISO":"SYR"}]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/api/", "test-agent", time.Second, 0, fastRetry(), nil)
	resp, err := src.Fetch(context.Background(), healthcareKey, "healthcare")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, resp.Len())
	assert.Equal(t, srv.URL+"/api/healthcare", resp.URL)
	assert.Equal(t, "NGA", resp.Rows[0]["Country ISO"])
}

func TestHTTPSource_Errors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			w.Write([]byte(`[]`))
		default:
			w.Write([]byte(`{"not": "an array"}`))
		}
	}))
	defer srv.Close()
	src := NewHTTPSource(srv.URL, "", time.Second, 0, fastRetry(), nil)

	_, err := src.Fetch(context.Background(), healthcareKey, "busy")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "503 is retried exactly once")

	atomic.StoreInt32(&calls, 0)
	_, err = src.Fetch(context.Background(), healthcareKey, "missing")
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "only 503 is retried")

	_, err = src.Fetch(context.Background(), healthcareKey, "empty")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = src.Fetch(context.Background(), healthcareKey, "object")
	assert.Error(t, err)
}

func TestRetryPolicy_CancelledDuringDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, Delay: time.Hour, RetryableStatus: []int{http.StatusServiceUnavailable}}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := policy.Do(ctx, orNop(nil), func() (*http.Response, error) {
		calls++
		cancel()
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: http.NoBody}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSavingSourceAndDirSource(t *testing.T) {
	dir := t.TempDir()
	mem := newMemorySource()
	mem.set("healthcare", model.KindIncidents, healthcareRow("2024-03-03", "NGA"))

	saved, err := SavingSource{Source: mem, Dir: dir}.Fetch(context.Background(), healthcareKey, "healthcare")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "healthcare-incidents.json"))

	replayed, err := DirSource{Dir: dir}.Fetch(context.Background(), healthcareKey, "healthcare")
	require.NoError(t, err)
	assert.Equal(t, saved.Rows, replayed.Rows)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "healthcare-overview.json"), []byte("[]"), 0644))
	_, err = DirSource{Dir: dir}.Fetch(context.Background(), model.EndpointKey{Topic: "healthcare", Kind: model.KindOverview}, "")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = DirSource{Dir: dir}.Fetch(context.Background(), model.EndpointKey{Topic: "crsv", Kind: model.KindOverview}, "")
	assert.Error(t, err)
}

func TestFetchAll(t *testing.T) {
	mem := newMemorySource()
	mem.set("healthcare", model.KindIncidents, healthcareRow("2024-03-03", "NGA"))
	overview := model.EndpointKey{Topic: "healthcare", Kind: model.KindOverview}
	mem.errs[overview] = errors.New("connection reset")

	targets := []FetchTarget{
		{Key: healthcareKey, APIPath: "healthcare"},
		{Key: overview, APIPath: "healthcareOverview"},
		{Key: model.EndpointKey{Topic: "crsv", Kind: model.KindIncidents}, APIPath: "crsv"},
	}
	outcomes, err := FetchAll(context.Background(), mem, targets, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, 1, outcomes[0].Response.Len())
	assert.EqualError(t, outcomes[1].Err, "connection reset")
	assert.ErrorIs(t, outcomes[2].Err, ErrEmptyResponse)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err = FetchAll(ctx, mem, targets, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
}
