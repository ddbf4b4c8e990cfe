package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/progress"
)

// Registry tracks live jobs. Jobs are inserted on creation and evicted by
// the janitor once they have sat in a terminal stage for the configured
// TTL, so the map stays bounded over the process lifetime.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	ttl    time.Duration
	broker *progress.Broker
	logger *slog.Logger
}

// NewRegistry creates a job registry. Evicting a job also drops its
// progress stream from the broker.
func NewRegistry(ttl time.Duration, broker *progress.Broker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		ttl:    ttl,
		broker: broker,
		logger: logger,
	}
}

func (r *Registry) add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.id] = j
}

// Get returns the job with the given id, if it is still registered.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Count returns the number of registered jobs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Janitor evicts expired terminal jobs until ctx is canceled.
func (r *Registry) Janitor(ctx context.Context) error {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	cutoff := time.Now().UTC().Add(-r.ttl)

	r.mu.Lock()
	var evicted []string
	for id, j := range r.jobs {
		if j.terminalSince(cutoff) {
			delete(r.jobs, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.broker.Drop(id)
		r.logger.Debug("pipeline: evicted job", slog.String("job_id", id))
	}
}
