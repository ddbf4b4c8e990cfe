package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/studyservice"
)

const maxUploadBytes = 100 << 20 // 100 MB

// Handler holds API route handlers.
type Handler struct {
	svc *studyservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *studyservice.Service) *Handler {
	return &Handler{svc: svc}
}

// UploadDocument handles POST /api/documents.
//
//	@Summary		Submit a document or audio file for processing
//	@Tags			documents
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"Content to process"
//	@Param			kind		formData	string	false	"Content kind"	Enums(document, audio)
//	@Param			X-User-ID	header		string	false	"User scope for the private upload record"
//	@Success		202			{object}	UploadAccepted
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("empty upload"))
		return
	}

	kind := r.FormValue("kind")
	if kind == "" {
		kind = ai.KindDocument
	}

	snap, err := h.svc.Upload(r.Context(), requestUser(r), header.Filename, kind, data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, UploadAccepted{
		JobID:       snap.ID,
		ContentHash: snap.ContentHash,
	})
}

// GetJob handles GET /api/jobs/{id}.
//
//	@Summary		Get the current state of a processing job
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job id"
//	@Success		200	{object}	JobSnapshot
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetArtifact handles GET /api/documents/{hash}.
//
//	@Summary		Get the derived artifact for a content hash
//	@Tags			documents
//	@Produce		json
//	@Param			hash	path		string	true	"Content hash"
//	@Success		200		{object}	models.DerivedArtifact
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{hash} [get]
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.svc.Artifact(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeServiceError(w, "get artifact", err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// GetTranscript handles GET /api/documents/{hash}/transcript.
//
//	@Summary		Get the raw extracted text for a content hash
//	@Tags			documents
//	@Produce		json
//	@Param			hash	path		string	true	"Content hash"
//	@Success		200		{object}	models.RawExtraction
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{hash}/transcript [get]
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	raw, err := h.svc.Transcript(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeServiceError(w, "get transcript", err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// ExpandBullet handles POST /api/documents/{hash}/topics/{topicID}/expansions.
//
// A depth-capped request is not an error: it answers 200 with the capped
// node and depth_capped set, so clients can stop offering deeper drill-down.
//
//	@Summary		Expand a bullet point into elaborated sub-bullets
//	@Tags			expansions
//	@Accept			json
//	@Produce		json
//	@Param			hash	path		string				true	"Content hash"
//	@Param			topicID	path		string				true	"Topic id"
//	@Param			body	body		ExpansionRequest	true	"Bullet to expand"
//	@Success		200		{object}	ExpansionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{hash}/topics/{topicID}/expansions [post]
func (h *Handler) ExpandBullet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ExpansionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Bullet == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("bullet is required"))
		return
	}

	node, err := h.svc.Expand(r.Context(), chi.URLParam(r, "hash"), chi.URLParam(r, "topicID"), req.Bullet, req.ParentKey)
	if err != nil {
		if errors.Is(err, apperr.ErrDepthCapped) {
			writeJSON(w, http.StatusOK, ExpansionResponse{Node: node, DepthCapped: true})
			return
		}
		writeServiceError(w, "expand bullet", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpansionResponse{Node: node})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across cached transcripts
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, "search", err)
		return
	}
	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{
			ContentHash: res.ContentHash,
			Filename:    res.Filename,
			Snippet:     res.Snippet,
		}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: out})
}

// CacheStats handles GET /api/cache/stats.
//
//	@Summary		Get cache statistics
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/cache/stats [get]
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, "cache stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalEntries:   stats.TotalEntries,
		RawEntries:     stats.RawEntries,
		DerivedEntries: stats.DerivedEntries,
		TotalSize:      stats.TotalSize,
	})
}

// CacheCleanup handles POST /api/cache/cleanup.
//
//	@Summary		Remove cache entries older than the given age
//	@Tags			cache
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CleanupRequest	true	"Age threshold"
//	@Success		200		{object}	CleanupResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cache/cleanup [post]
func (h *Handler) CacheCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.MaxAgeHours <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("max_age_hours must be positive"))
		return
	}
	removed, err := h.svc.Cleanup(r.Context(), time.Duration(req.MaxAgeHours)*time.Hour)
	if err != nil {
		writeServiceError(w, "cache cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Removed: removed})
}

// StorageUsage handles GET /api/storage/usage.
//
//	@Summary		Count stored objects per namespace
//	@Tags			storage
//	@Produce		json
//	@Param			X-User-ID	header		string	false	"User scope for the private namespace"
//	@Success		200			{object}	UsageReport
//	@Security		BearerAuth
//	@Router			/storage/usage [get]
func (h *Handler) StorageUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Usage(r.Context(), requestUser(r))
	if err != nil {
		writeServiceError(w, "storage usage", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
