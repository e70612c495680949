package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const (
	defaultDraftTTL       = 24 * time.Hour
	defaultDraftBatchSize = 100
	maxDraftBatches       = 20
)

// DraftExpiryJobParams configure the abandoned draft sweeper.
type DraftExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    draftExpirer
	TTL       time.Duration
	BatchSize int
}

// draftExpirer is satisfied by orders.Service.
type draftExpirer interface {
	StaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Expire(ctx context.Context, order models.Order) error
}

// NewDraftExpiryJob builds the cron job that cancels drafts untouched for
// longer than TTL and returns their reservations.
func NewDraftExpiryJob(params DraftExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultDraftBatchSize
	}
	return &draftExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type draftExpiryJob struct {
	logg   *logger.Logger
	orders draftExpirer
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *draftExpiryJob) Name() string { return "draft-expiry" }

// Run sweeps in batches until a short batch comes back. A batch with any
// skipped or failed draft ends the run so the same rows are not retried
// in a loop; the next cycle picks them up again.
func (j *draftExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	var (
		errs                     error
		expired, skipped, failed int
	)
	for i := 0; i < maxDraftBatches; i++ {
		drafts, err := j.orders.StaleDrafts(ctx, cutoff, j.batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("query stale drafts: %w", err))
			break
		}
		clean := true
		for _, draft := range drafts {
			err := j.orders.Expire(ctx, draft)
			switch {
			case err == nil:
				expired++
			case pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict), pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition):
				// touched or moved on since the sweep read it
				skipped++
				clean = false
			default:
				failed++
				clean = false
				errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", draft.ID, err))
			}
		}
		if len(drafts) < j.batch || !clean {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": expired,
		"skipped": skipped,
		"failed":  failed,
	})
	j.logg.Info(logCtx, "draft expiry sweep complete")
	return errs
}
