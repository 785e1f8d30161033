package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"insecurity-insight-pipeline/internal/model"
)

// ErrEmptyResponse is returned when an endpoint answers with an empty array
var ErrEmptyResponse = errors.New("empty response")

// Source fetches the rows of one upstream endpoint
type Source interface {
	Fetch(ctx context.Context, key model.EndpointKey, apiPath string) (*model.EndpointResponse, error)
}

// ------------------- HTTP Source -------------------

// HTTPSource reads the Insecurity Insight JSON API. Calls are sequential and spaced
// by the limiter; a busy server gets one delayed retry.
type HTTPSource struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Limiter   *rate.Limiter
	Retry     RetryPolicy
	Logger    *zap.Logger
}

// NewHTTPSource builds a source that waits delay between calls and times out each call after timeout
func NewHTTPSource(baseURL, userAgent string, timeout, delay time.Duration, retry RetryPolicy, logger *zap.Logger) *HTTPSource {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &HTTPSource{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: timeout},
		Limiter:   rate.NewLimiter(limit, 1),
		Retry:     retry,
		Logger:    logger,
	}
}

// URL returns the address of an endpoint
func (s *HTTPSource) URL(apiPath string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(apiPath, "/")
}

// Fetch performs one GET and decodes the JSON array of flat objects
func (s *HTTPSource) Fetch(ctx context.Context, key model.EndpointKey, apiPath string) (*model.EndpointResponse, error) {
	url := s.URL(apiPath)
	logger := orNop(s.Logger).With(zap.Stringer("endpoint", key), zap.String("url", url))

	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	logger.Debug("GET")

	resp, err := s.Retry.Do(ctx, logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if s.UserAgent != "" {
			req.Header.Set("User-Agent", s.UserAgent)
		}
		return s.Client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			logger.Debug("failed to drain error response", zap.Error(err))
		}
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	rows, err := decodeRows(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", url, ErrEmptyResponse)
	}
	return &model.EndpointResponse{Key: key, URL: url, Rows: rows}, nil
}

func decodeRows(r io.Reader) ([]model.Row, error) {
	var rows []model.Row
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ------------------- Saved Responses -------------------

// DirSource replays responses saved as <dir>/<topic>-<kind>.json
type DirSource struct {
	Dir string
}

func savedPath(dir string, key model.EndpointKey) string {
	return filepath.Join(dir, key.String()+".json")
}

// Fetch reads a saved response from disk
func (s DirSource) Fetch(ctx context.Context, key model.EndpointKey, apiPath string) (*model.EndpointResponse, error) {
	path := savedPath(s.Dir, key)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open saved response: %w", err)
	}
	defer file.Close()

	rows, err := decodeRows(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyResponse)
	}
	return &model.EndpointResponse{Key: key, URL: "file://" + path, Rows: rows}, nil
}

// SavingSource writes every successful response of the wrapped source to Dir
type SavingSource struct {
	Source Source
	Dir    string
}

// Fetch delegates and saves the raw rows before any redaction happens
func (s SavingSource) Fetch(ctx context.Context, key model.EndpointKey, apiPath string) (*model.EndpointResponse, error) {
	resp, err := s.Source.Fetch(ctx, key, apiPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}
	data, err := json.MarshalIndent(resp.Rows, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(savedPath(s.Dir, key), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save response: %w", err)
	}
	return resp, nil
}

// ------------------- Fetch Stage -------------------

// FetchTarget is one endpoint to request
type FetchTarget struct {
	Key     model.EndpointKey
	APIPath string
}

// FetchOutcome records what happened to one target
type FetchOutcome struct {
	Target   FetchTarget
	Response *model.EndpointResponse // nil when skipped
	Duration time.Duration
	Err      error
}

// FetchAll requests every target in order. A failing endpoint is logged and skipped;
// only cancellation of ctx stops the loop.
func FetchAll(ctx context.Context, src Source, targets []FetchTarget, logger *zap.Logger) ([]FetchOutcome, error) {
	logger = orNop(logger)
	outcomes := make([]FetchOutcome, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		logger.Info("fetching data from API", zap.Stringer("endpoint", target.Key))

		start := time.Now()
		resp, err := src.Fetch(ctx, target.Key, target.APIPath)
		outcome := FetchOutcome{Target: target, Response: resp, Duration: time.Since(start), Err: err}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcomes, ctxErr
			}
			logger.Error("failed to download response", zap.Stringer("endpoint", target.Key), zap.Error(err))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
