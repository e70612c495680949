package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Periodic is implemented by jobs that should run less often than every
// cycle. A job is due again once Every has elapsed since its last success.
type Periodic interface {
	Every() time.Duration
}

type registeredJob struct {
	job         Job
	every       time.Duration
	lastSuccess time.Time
}

// Registry tracks registered cron jobs. Job names are unique because they
// label logs, metrics and the run bookkeeping.
type Registry struct {
	mu   sync.Mutex
	jobs []*registeredJob
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron job is nil")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("cron job name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.job.Name() == name {
			return fmt.Errorf("cron job %q registered twice", name)
		}
	}
	entry := &registeredJob{job: job}
	if periodic, ok := job.(Periodic); ok {
		entry.every = periodic.Every()
	}
	r.jobs = append(r.jobs, entry)
	return nil
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, entry := range r.jobs {
		jobs = append(jobs, entry.job)
	}
	return jobs
}

// Due returns the jobs that should run at now, in registration order.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, entry := range r.jobs {
		if entry.every <= 0 || entry.lastSuccess.IsZero() || !now.Before(entry.lastSuccess.Add(entry.every)) {
			due = append(due, entry.job)
		}
	}
	return due
}

// MarkSucceeded records a successful run of the named job.
func (r *Registry) MarkSucceeded(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.jobs {
		if entry.job.Name() == name {
			entry.lastSuccess = at
			return
		}
	}
}
