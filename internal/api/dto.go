package api

import (
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/studyservice"
)

// JobSnapshot is the job state response (aliased from the pipeline layer).
type JobSnapshot = pipeline.Snapshot

// UsageReport is the storage usage response (aliased from the service layer).
type UsageReport = studyservice.UsageReport

// UploadAccepted acknowledges a submitted upload.
type UploadAccepted struct {
	JobID       string `json:"job_id" validate:"required"`
	ContentHash string `json:"content_hash" validate:"required"`
}

// ExpansionRequest is the request body for expanding a bullet point.
type ExpansionRequest struct {
	Bullet    string `json:"bullet" example:"Mitochondria produce energy" validate:"required"`
	ParentKey string `json:"parent_key,omitempty" example:"a1b2c3d4e5f60718"`
}

// ExpansionResponse wraps an expansion node. DepthCapped is set when the
// request tried to expand past the maximum layer; the node returned is
// then the already-capped parent, unchanged.
type ExpansionResponse struct {
	Node        *models.ExpansionNode `json:"node" validate:"required"`
	DepthCapped bool                  `json:"depth_capped,omitempty"`
}

// SearchResult is a single transcript search hit.
type SearchResult struct {
	ContentHash string `json:"content_hash" validate:"required"`
	Filename    string `json:"filename"`
	Snippet     string `json:"snippet"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// StatsResponse reports cache statistics.
type StatsResponse struct {
	TotalEntries   int   `json:"total_entries" validate:"required"`
	RawEntries     int   `json:"raw_entries" validate:"required"`
	DerivedEntries int   `json:"derived_entries" validate:"required"`
	TotalSize      int64 `json:"total_size" validate:"required"`
}

// CleanupRequest selects how old entries must be before removal.
type CleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours" example:"720" validate:"required"`
}

// CleanupResponse reports how many entries were removed.
type CleanupResponse struct {
	Removed int `json:"removed" validate:"required"`
}
