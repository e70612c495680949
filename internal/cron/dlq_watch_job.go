package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const dlqWatchEvery = 15 * time.Minute

type dlqCounter interface {
	CountSince(ctx context.Context, since time.Time) (map[enums.OutboxEventType]int64, error)
}

// NewDLQWatchJob builds the job that warns when events were dead-lettered
// since its previous run.
func NewDLQWatchJob(logg *logger.Logger, dlq dlqCounter) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dlq repository required")
	}
	return &dlqWatchJob{logg: logg, dlq: dlq, now: time.Now}, nil
}

type dlqWatchJob struct {
	logg      *logger.Logger
	dlq       dlqCounter
	now       func() time.Time
	lastCheck time.Time
}

func (j *dlqWatchJob) Name() string { return "outbox-dlq-watch" }

func (j *dlqWatchJob) Every() time.Duration { return dlqWatchEvery }

func (j *dlqWatchJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	since := j.lastCheck
	if since.IsZero() {
		since = now.Add(-dlqWatchEvery)
	}
	counts, err := j.dlq.CountSince(ctx, since)
	if err != nil {
		return fmt.Errorf("count dlq: %w", err)
	}
	j.lastCheck = now

	var total int64
	byType := make(map[string]any, len(counts))
	for eventType, n := range counts {
		total += n
		byType[string(eventType)] = n
	}
	if total == 0 {
		return nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"since":      since,
		"dead_total": total,
		"by_type":    byType,
	})
	j.logg.Warn(logCtx, "outbox events dead-lettered")
	return nil
}
