// Package studyservice coordinates the pipeline, cache, and expansion
// layers behind one API-facing surface.
package studyservice

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/expand"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/storage"
)

// UsageReport summarizes stored object counts per namespace for one user.
type UsageReport struct {
	Backend          string `json:"backend"`
	PrivateObjects   int    `json:"private_objects"`
	SharedObjects    int    `json:"shared_objects"`
	EphemeralObjects int    `json:"ephemeral_objects"`
}

// Service coordinates uploads, jobs, artifacts, and expansions.
type Service struct {
	orch     *pipeline.Orchestrator
	jobs     *pipeline.Registry
	store    *cache.Store
	expander *expand.Service
	backend  storage.Backend
}

// NewService creates the study service.
func NewService(orch *pipeline.Orchestrator, jobs *pipeline.Registry, store *cache.Store, expander *expand.Service, backend storage.Backend) *Service {
	return &Service{orch: orch, jobs: jobs, store: store, expander: expander, backend: backend}
}

// Upload submits content for processing and returns the new job's snapshot.
func (s *Service) Upload(ctx context.Context, user, filename, kind string, data []byte) (pipeline.Snapshot, error) {
	job, err := s.orch.Submit(ctx, user, filename, kind, data)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	return job.Snapshot(), nil
}

// Job returns the current snapshot of a registered job.
func (s *Service) Job(_ context.Context, id string) (pipeline.Snapshot, error) {
	job, ok := s.jobs.Get(id)
	if !ok {
		return pipeline.Snapshot{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return job.Snapshot(), nil
}

// Artifact returns the derived artifact for a content hash.
func (s *Service) Artifact(ctx context.Context, hash string) (*models.DerivedArtifact, error) {
	artifact, ok := s.store.GetDerived(ctx, hash)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return artifact, nil
}

// Transcript returns the raw-tier extraction for a content hash.
func (s *Service) Transcript(ctx context.Context, hash string) (*models.RawExtraction, error) {
	raw, ok := s.store.GetRaw(ctx, hash)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return raw, nil
}

// Expand returns the memoized expansion of a bullet, generating it on
// first request. Passes apperr.ErrDepthCapped through together with the
// capped node.
func (s *Service) Expand(ctx context.Context, hash, topicID, bullet, parentKey string) (*models.ExpansionNode, error) {
	return s.expander.Expand(ctx, hash, topicID, bullet, parentKey)
}

// Search runs a transcript search.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]cache.SearchResult, error) {
	return s.store.Search(ctx, query, limit)
}

// Stats returns cache statistics.
func (s *Service) Stats(ctx context.Context) (cache.Stats, error) {
	return s.store.Stats(ctx)
}

// Cleanup removes cache entries older than maxAge and returns the count.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.store.Cleanup(ctx, maxAge)
}

// Usage counts stored objects per namespace as seen by one user.
func (s *Service) Usage(ctx context.Context, user string) (UsageReport, error) {
	report := UsageReport{Backend: s.backend.Name()}

	private, err := s.backend.List(ctx, storage.PrivateKey(user, ""))
	if err != nil {
		return report, err
	}
	shared, err := s.backend.List(ctx, storage.SharedKey(""))
	if err != nil {
		return report, err
	}
	ephemeral, err := s.backend.List(ctx, storage.EphemeralKey(""))
	if err != nil {
		return report, err
	}

	report.PrivateObjects = len(private)
	report.SharedObjects = len(shared)
	report.EphemeralObjects = len(ephemeral)
	return report, nil
}
