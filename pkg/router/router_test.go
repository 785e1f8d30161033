package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reply(body string) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}
}

func TestMatchWildcardRoute(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"/api/v1/runs/abc", "/api/v1/runs/*", true},
		{"/api/v1/runs/abc/errors", "/api/v1/runs/*/errors", true},
		{"/api/v1/runs/abc/files", "/api/v1/runs/*/errors", false},
		{"/api/v1/runs", "/api/v1/runs/*", false},
		{"/api/v1/topics/healthcare/history", "/api/v1/topics/*/history", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchWildcardRoute(tt.path, tt.pattern), "%s vs %s", tt.path, tt.pattern)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	r := New(nil)
	r.GET("/api/v1/runs", reply("list"))
	r.GET("/api/v1/runs/*", reply("run"))
	r.GET("/api/v1/runs/*/errors", reply("errors"))
	r.Mount("/static/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, "static "+req.URL.Path)
	}))

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/api/v1/runs", http.StatusOK, "list"},
		{http.MethodGet, "/api/v1/runs/abc", http.StatusOK, "run"},
		{http.MethodGet, "/api/v1/runs/abc/errors", http.StatusOK, "errors"},
		{http.MethodGet, "/static/doc.json", http.StatusOK, "static /static/doc.json"},
		{http.MethodPost, "/api/v1/runs", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nowhere", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, "%s %s", tt.method, tt.path)
		if tt.body != "" {
			assert.Equal(t, tt.body, rec.Body.String())
		}
	}
}

func TestSegment(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc/errors", nil)
	assert.Equal(t, "abc", Segment(req, 3))
	assert.Equal(t, "errors", Segment(req, 4))
	assert.Equal(t, "", Segment(req, 5))
}
