// Package pipeline runs the upload-to-artifact pipeline: each submission
// becomes a background job that consults the cache before invoking any
// expensive collaborator, reports progress through the event broker, and
// persists its results keyed by content hash.
package pipeline

import (
	"sync"
	"time"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/progress"
)

// Job is one pipeline run for one upload. Its identifier is opaque and
// never reused. Fields are guarded by mu: the run goroutine writes, API
// reads snapshot concurrently.
type Job struct {
	mu sync.Mutex

	id          string
	user        string
	filename    string
	kind        string
	contentHash string

	stage    string
	current  int
	total    int
	cacheHit bool
	result   *models.DerivedArtifact
	errMsg   string

	createdAt time.Time
	updatedAt time.Time
}

// Snapshot is the point-in-time view of a job returned to clients.
type Snapshot struct {
	ID          string                  `json:"job_id"`
	User        string                  `json:"user"`
	Filename    string                  `json:"filename"`
	Kind        string                  `json:"kind"`
	ContentHash string                  `json:"content_hash"`
	Stage       string                  `json:"stage"`
	Current     int                     `json:"current,omitempty"`
	Total       int                     `json:"total,omitempty"`
	CacheHit    bool                    `json:"cache_hit"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	Result      *models.DerivedArtifact `json:"result,omitempty"`
}

func newJob(id, user, filename, kind, hash string) *Job {
	now := time.Now().UTC()
	return &Job{
		id:          id,
		user:        user,
		filename:    filename,
		kind:        kind,
		contentHash: hash,
		stage:       progress.StageUploading,
		createdAt:   now,
		updatedAt:   now,
	}
}

// ID returns the job's opaque identifier.
func (j *Job) ID() string { return j.id }

// ContentHash returns the content hash of the job's upload.
func (j *Job) ContentHash() string { return j.contentHash }

// Snapshot returns a consistent copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:          j.id,
		User:        j.user,
		Filename:    j.filename,
		Kind:        j.kind,
		ContentHash: j.contentHash,
		Stage:       j.stage,
		Current:     j.current,
		Total:       j.total,
		CacheHit:    j.cacheHit,
		Error:       j.errMsg,
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
		Result:      j.result,
	}
}

func (j *Job) setStage(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = stage
	j.updatedAt = time.Now().UTC()
}

func (j *Job) setProgress(current, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = progress.StageTranscribing
	j.current = current
	j.total = total
	j.updatedAt = time.Now().UTC()
}

func (j *Job) finish(result *models.DerivedArtifact, cacheHit bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = progress.StageDone
	j.result = result
	j.cacheHit = cacheHit
	j.updatedAt = time.Now().UTC()
}

func (j *Job) fail(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = progress.StageError
	j.errMsg = msg
	j.updatedAt = time.Now().UTC()
}

// terminalSince reports whether the job reached a terminal stage before the
// given cutoff. Used by the registry janitor.
func (j *Job) terminalSince(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stage != progress.StageDone && j.stage != progress.StageError {
		return false
	}
	return j.updatedAt.Before(cutoff)
}
