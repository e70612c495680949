package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultJobTimeout = 2 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job run. It should stay below the lock TTL.
	JobTimeout time.Duration
}

// Service wakes up every interval, takes the cluster-wide lock and runs
// whichever registered jobs are due.
type Service struct {
	logg     *logger.Logger
	jobs     *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Lock == nil:
		return nil, errors.New("lock is required")
	}
	jobs := params.Registry
	if jobs == nil {
		jobs = &Registry{}
	}
	return &Service{
		logg:     params.Logger,
		jobs:     jobs,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: positiveOr(params.Interval, defaultInterval),
		timeout:  positiveOr(params.JobTimeout, defaultJobTimeout),
		now:      time.Now,
	}, nil
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Run fires one cycle immediately and then one per interval until ctx is
// canceled. A failed cycle is logged and does not stop the loop.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !held {
		s.metrics.IncSkipped()
		s.logg.Debug(ctx, "cron lock held by another replica")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "release cron lock", err)
		}
	}()

	due := s.jobs.Due(s.now())
	if len(due) == 0 {
		return nil
	}
	cycleCtx := s.logg.WithField(ctx, "jobs", len(due))
	failed := 0
	for _, job := range due {
		if s.runJob(cycleCtx, job) {
			s.jobs.MarkSucceeded(job.Name(), s.now())
			continue
		}
		failed++
	}
	s.logg.Info(s.logg.WithField(cycleCtx, "failed", failed), "cron cycle finished")
	return nil
}

// runJob executes job under the per-job timeout and reports whether it
// succeeded. Failures are logged and recorded, never returned.
func (s *Service) runJob(ctx context.Context, job Job) bool {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(started)
	s.metrics.ObserveRun(name, elapsed, err)

	ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return false
	}
	s.logg.Info(ctx, "cron job done")
	return true
}
