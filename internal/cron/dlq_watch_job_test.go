package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

type fakeDLQCounter struct {
	since  []time.Time
	counts map[enums.OutboxEventType]int64
	err    error
}

func (f *fakeDLQCounter) CountSince(_ context.Context, since time.Time) (map[enums.OutboxEventType]int64, error) {
	f.since = append(f.since, since)
	return f.counts, f.err
}

func TestDLQWatchJobAdvancesWindow(t *testing.T) {
	counter := &fakeDLQCounter{counts: map[enums.OutboxEventType]int64{enums.EventOrderPaid: 2}}
	jobIface, err := NewDLQWatchJob(logger.Nop(), counter)
	require.NoError(t, err)
	job := jobIface.(*dlqWatchJob)

	first := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return first }
	require.NoError(t, job.Run(context.Background()))

	second := first.Add(20 * time.Minute)
	job.now = func() time.Time { return second }
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, counter.since, 2)
	assert.Equal(t, first.Add(-dlqWatchEvery), counter.since[0])
	assert.Equal(t, first, counter.since[1])
}

func TestDLQWatchJobKeepsWindowOnError(t *testing.T) {
	counter := &fakeDLQCounter{err: errors.New("db down")}
	jobIface, err := NewDLQWatchJob(logger.Nop(), counter)
	require.NoError(t, err)
	job := jobIface.(*dlqWatchJob)

	assert.Error(t, job.Run(context.Background()))
	assert.True(t, job.lastCheck.IsZero())
}

func TestNewDLQWatchJobValidates(t *testing.T) {
	_, err := NewDLQWatchJob(nil, &fakeDLQCounter{})
	assert.Error(t, err)
	_, err = NewDLQWatchJob(logger.Nop(), nil)
	assert.Error(t, err)
}
