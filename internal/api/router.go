package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/progress"
	"github.com/starford/ansuz/internal/studyservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// broker serves the per-job progress streams.
func NewRouter(svc *studyservice.Service, authEnabled bool, token string, broker *progress.Broker) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Uploads and artifacts.
	r.Post("/documents", h.UploadDocument)
	r.Get("/documents/{hash}", h.GetArtifact)
	r.Get("/documents/{hash}/transcript", h.GetTranscript)
	r.Post("/documents/{hash}/topics/{topicID}/expansions", h.ExpandBullet)

	// Jobs and their progress streams.
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/events", func(w http.ResponseWriter, req *http.Request) {
		broker.ServeJob(w, req, chi.URLParam(req, "id"))
	})

	// Search.
	r.Get("/search", h.Search)

	// Administration.
	r.Get("/cache/stats", h.CacheStats)
	r.Post("/cache/cleanup", h.CacheCleanup)
	r.Get("/storage/usage", h.StorageUsage)

	return r
}
