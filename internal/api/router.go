package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	_ "insecurity-insight-pipeline/docs"
	"insecurity-insight-pipeline/internal/api/handler"
	"insecurity-insight-pipeline/pkg/router"
)

func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.GET("/health", h.Health)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/errors", h.GetRunErrors)
	r.GET("/api/v1/runs/*/files", h.GetRunFiles)
	r.GET("/api/v1/runs/*", h.GetRun)
	r.GET("/api/v1/topics/*/history", h.GetTopicHistory)

	r.Mount("/swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
