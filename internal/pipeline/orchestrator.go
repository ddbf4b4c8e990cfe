package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/progress"
	"github.com/starford/ansuz/internal/storage"
)

// Orchestrator accepts uploads and drives each one through the pipeline as
// a detached background job. Before any expensive collaborator call it
// consults the cache: a derived-tier hit finishes the job immediately, a
// raw-tier hit skips extraction. Identical concurrent uploads share one
// computation through a singleflight group keyed by content hash.
type Orchestrator struct {
	store   *cache.Store
	backend storage.Backend
	suite   ai.Suite
	jobs    *Registry
	broker  *progress.Broker
	logger  *slog.Logger
	flight  singleflight.Group
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(store *cache.Store, backend storage.Backend, suite ai.Suite, jobs *Registry, broker *progress.Broker, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		backend: backend,
		suite:   suite,
		jobs:    jobs,
		broker:  broker,
		logger:  logger,
	}
}

// Submit registers a new job for the upload and starts it in the
// background. The returned job already carries its content hash, so the
// client can poll artifacts even if it never opens the event stream.
//
// Disconnecting from the progress stream does not cancel the job; it runs
// to completion and its results are cached regardless.
func (o *Orchestrator) Submit(_ context.Context, user, filename, kind string, data []byte) (*Job, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	if kind != ai.KindDocument && kind != ai.KindAudio {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}

	job := newJob(uuid.NewString(), user, filename, kind, checksum.Sum(data))
	o.jobs.add(job)

	go o.run(job, data)

	return job, nil
}

// computed bundles the results of the expensive pipeline stages.
type computed struct {
	segments []models.Segment
	topics   map[string]*models.Topic
}

func (o *Orchestrator) run(job *Job, data []byte) {
	ctx := context.Background()
	hash := job.contentHash
	started := time.Now()

	o.publishStage(job, progress.StageUploading)

	// The raw upload is private to the submitting user; only the cache
	// tiers below are shared across users.
	uploadKey := storage.PrivateKey(job.user, "uploads/"+hash)
	if err := o.backend.Put(ctx, uploadKey, data); err != nil {
		o.failJob(job, fmt.Sprintf("storing upload failed: %v", err))
		return
	}

	// Derived hit: the whole pipeline is already done for this content.
	if artifact, ok := o.store.GetDerived(ctx, hash); ok {
		o.store.WriteMeta(ctx, hash, job.filename, true)
		job.finish(artifact, true)
		o.broker.Publish(job.id, progress.Event{Stage: progress.StageDone, Result: artifact})
		o.logger.Info("pipeline: served from derived cache",
			slog.String("job_id", job.id), slog.String("hash", checksum.Short(hash)))
		return
	}

	o.publishStage(job, progress.StagePreprocessing)

	v, err, shared := o.flight.Do(hash, func() (any, error) {
		return o.compute(ctx, job, data)
	})
	if err != nil {
		o.failJob(job, err.Error())
		return
	}
	res := v.(*computed)

	o.publishStage(job, progress.StageSavingOutput)

	o.store.SaveDerived(ctx, hash, res.segments, res.topics, job.filename)
	o.store.WriteMeta(ctx, hash, job.filename, false)

	artifact := &models.DerivedArtifact{
		ContentHash:      hash,
		Segments:         res.segments,
		Topics:           res.topics,
		OriginalFilename: job.filename,
		CreatedAt:        time.Now().UTC(),
	}
	job.finish(artifact, false)
	o.broker.Publish(job.id, progress.Event{Stage: progress.StageDone, Result: artifact})

	o.logger.Info("pipeline: job finished",
		slog.String("job_id", job.id),
		slog.String("hash", checksum.Short(hash)),
		slog.Bool("shared_computation", shared),
		slog.Duration("elapsed", time.Since(started)))
}

// compute runs extraction, segmentation, and clustering. Only the winning
// call of a singleflight group executes it; progress events are attributed
// to that job. A raw-tier hit skips extraction entirely.
func (o *Orchestrator) compute(ctx context.Context, job *Job, data []byte) (*computed, error) {
	hash := job.contentHash

	var text string
	if raw, ok := o.store.GetRaw(ctx, hash); ok {
		text = raw.Text
		o.logger.Info("pipeline: raw cache hit, skipping extraction",
			slog.String("job_id", job.id), slog.String("hash", checksum.Short(hash)))
	} else {
		extracted, err := o.suite.Extractor.ExtractText(ctx, data, job.kind, o.progressFunc(job))
		if err != nil {
			return nil, fmt.Errorf("extraction failed: %v", err)
		}
		text = extracted
		o.store.SaveRaw(ctx, hash, text, job.filename)
	}

	segments, err := o.suite.Segmenter.Segment(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %v", err)
	}

	topics, err := o.suite.Clusterer.Cluster(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("clustering failed: %v", err)
	}

	return &computed{segments: segments, topics: topics}, nil
}

// progressFunc adapts extractor progress callbacks into transcribing
// events, clamping regressions so the stream stays monotonic.
func (o *Orchestrator) progressFunc(job *Job) ai.ProgressFunc {
	last := 0
	return func(current, total int) {
		if current < last {
			current = last
		}
		last = current
		job.setProgress(current, total)
		o.broker.Publish(job.id, progress.Event{
			Stage:   progress.StageTranscribing,
			Current: current,
			Total:   total,
		})
	}
}

func (o *Orchestrator) publishStage(job *Job, stage string) {
	job.setStage(stage)
	o.broker.Publish(job.id, progress.Event{Stage: stage})
}

func (o *Orchestrator) failJob(job *Job, msg string) {
	job.fail(msg)
	o.broker.Publish(job.id, progress.Event{Stage: progress.StageError, Error: msg})
	o.logger.Error("pipeline: job failed",
		slog.String("job_id", job.id),
		slog.String("hash", checksum.Short(job.contentHash)),
		slog.String("error", msg))
}
