package db

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

func gormConfig(logg *logger.Logger, slow time.Duration) *gorm.Config {
	var gl gormlogger.Interface = gormlogger.New(
		log.New(io.Discard, "", 0),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)
	if logg != nil && slow > 0 {
		gl = &queryLogger{logg: logg, slow: slow}
	}
	return &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

// queryLogger reports slow statements and unexpected query errors through
// the service logger. GORM's own info and warn chatter is dropped.
type queryLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func (q *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }

func (q *queryLogger) Info(context.Context, string, ...any)  {}
func (q *queryLogger) Warn(context.Context, string, ...any)  {}
func (q *queryLogger) Error(context.Context, string, ...any) {}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !IsUniqueViolation(err, "")
	if !failed && elapsed < q.slow {
		return
	}

	sql, rows := fc()
	ctx = q.logg.WithFields(ctx, map[string]any{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if failed {
		q.logg.Warn(q.logg.WithField(ctx, "error", err.Error()), "query failed")
		return
	}
	q.logg.Warn(ctx, "slow query")
}
