package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/model"
	"insecurity-insight-pipeline/internal/store"
	"insecurity-insight-pipeline/pkg/router"
	"insecurity-insight-pipeline/pkg/utils"
)

// RunStore is the read side of the run history
type RunStore interface {
	ListRuns(limit int) ([]store.RunSummary, error)
	GetRun(runID string) (*model.RunReport, error)
	RunErrors(runID string) ([]model.ErrorDetail, error)
	TopicHistory(topic string) ([]model.TopicUpdate, error)
}

// Handler serves the run history
type Handler struct {
	Store  RunStore
	Output *utils.OutputManager
	Logger *zap.Logger
}

// RunFile is one spreadsheet generated by a run
type RunFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrRunNotFound) || errors.Is(err, os.ErrNotExist) {
		http.Error(w, msg+": not found", http.StatusNotFound)
		return
	}
	if h.Logger != nil {
		h.Logger.Error(msg, zap.Error(err))
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

// Health reports that the server is up
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// ListRuns retrieves recent pipeline runs
// @Summary List runs
// @Description Most recent runs first
// @Tags runs
// @Produce json
// @Param limit query int false "Maximum number of runs" default(50)
// @Success 200 {array} store.RunSummary
// @Failure 400 {string} string "Invalid limit"
// @Failure 500 {string} string "Internal server error"
// @Router /api/v1/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.Store.ListRuns(limit)
	if err != nil {
		h.fail(w, err, "Failed to fetch runs")
		return
	}
	writeJSON(w, runs)
}

// GetRun retrieves the full report of a run
// @Summary Get run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.RunReport
// @Failure 404 {string} string "Run not found"
// @Router /api/v1/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.Store.GetRun(router.Segment(r, 3))
	if err != nil {
		h.fail(w, err, "Run")
		return
	}
	writeJSON(w, report)
}

// GetRunErrors retrieves the errors recorded during a run
// @Summary Get run errors
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /api/v1/runs/{id}/errors [get]
func (h *Handler) GetRunErrors(w http.ResponseWriter, r *http.Request) {
	runID := router.Segment(r, 3)
	errs, err := h.Store.RunErrors(runID)
	if err != nil {
		h.fail(w, err, "Run")
		return
	}
	writeJSON(w, map[string]interface{}{
		"run_id": runID,
		"errors": errs,
		"count":  len(errs),
	})
}

// GetRunFiles lists the spreadsheets a run generated
// @Summary Get run files
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {string} string "Run not found"
// @Router /api/v1/runs/{id}/files [get]
func (h *Handler) GetRunFiles(w http.ResponseWriter, r *http.Request) {
	runID := router.Segment(r, 3)
	if _, err := h.Store.GetRun(runID); err != nil {
		h.fail(w, err, "Run")
		return
	}
	names, err := h.Output.ListRunFiles(runID)
	if err != nil {
		h.fail(w, err, "Run files")
		return
	}
	files := make([]RunFile, 0, len(names))
	for _, name := range names {
		size, err := h.Output.GetFileSize(filepath.Join(h.Output.BaseOutputDir, runID, name))
		if err != nil {
			h.fail(w, err, "Run files")
			return
		}
		files = append(files, RunFile{Name: name, Format: h.Output.GetFileType(name), Size: size})
	}
	writeJSON(w, map[string]interface{}{
		"run_id": runID,
		"files":  files,
		"count":  len(files),
	})
}

// GetTopicHistory lists the freshness decisions recorded for a topic
// @Summary Get topic history
// @Tags topics
// @Produce json
// @Param topic path string true "Topic key"
// @Success 200 {array} model.TopicUpdate
// @Failure 500 {string} string "Internal server error"
// @Router /api/v1/topics/{topic}/history [get]
func (h *Handler) GetTopicHistory(w http.ResponseWriter, r *http.Request) {
	updates, err := h.Store.TopicHistory(router.Segment(r, 3))
	if err != nil {
		h.fail(w, err, "Failed to fetch topic history")
		return
	}
	writeJSON(w, updates)
}
