package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/willowmail/willow/logger"
)

type tracerStartTimeKey struct{}

// queryTracer logs every SQL statement when database.log_queries is on.
type queryTracer struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	logger.Debug("db query start", "sql", data.SQL, "args", data.Args)
	return context.WithValue(ctx, tracerStartTimeKey{}, time.Now())
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	var elapsed time.Duration
	if start, ok := ctx.Value(tracerStartTimeKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	if data.Err != nil {
		logger.Debug("db query end", "duration", elapsed, "error", data.Err)
		return
	}
	logger.Debug("db query end", "duration", elapsed, "rows", data.CommandTag.RowsAffected())
}
