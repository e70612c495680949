package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/retail-backoffice/pkg/db/dbtest"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
)

func TestOutboxRetentionJobUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, repo, 0)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-defaultOutboxRetention), repo.lastCutoff)
	assert.Equal(t, 1, repo.called)
}

func TestOutboxRetentionJobIsPeriodic(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeOutboxRetentionRepo{}, 0)

	var periodic Periodic = job
	assert.Equal(t, time.Hour, periodic.Every())
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, time.Hour)

	assert.Error(t, job.Run(context.Background()))
}

func TestOutboxRetentionJobKeepsUnpublishedRows(t *testing.T) {
	conn := dbtest.Open(t)
	old := time.Now().UTC().Add(-48 * time.Hour)
	rows := []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &old},
		{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)},
	}
	require.NoError(t, conn.Create(&rows).Error)

	job := newOutboxRetentionJob(t, outbox.NewRepository(conn), 24*time.Hour)
	require.NoError(t, job.Run(context.Background()))

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[1].ID, remaining[0].ID)
}

func newOutboxRetentionJob(t *testing.T, repo outboxRetentionRepo, retention time.Duration) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: repo,
		Retention:  retention,
	})
	require.NoError(t, err)
	job, ok := jobIface.(*outboxRetentionJob)
	require.True(t, ok)
	return job
}

type fakeOutboxRetentionRepo struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}
