package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/model"
)

type queryStartKey struct{}

type queryStart struct {
	sql  string
	args []any
	at   time.Time
}

// QueryTracer records every query executed with a context that carries a
// Clockwork as a database query of the current request.
type QueryTracer struct {
	now func() time.Time
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

func NewQueryTracer() *QueryTracer {
	return &QueryTracer{now: time.Now}
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if clockwork.FromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, args: data.Args, at: t.now()})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	cw := clockwork.FromContext(ctx)
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if cw == nil || !ok {
		return
	}

	q := model.DatabaseQuery{
		Query:    start.sql,
		Bindings: start.args,
		Duration: float64(t.now().Sub(start.at)) / float64(time.Millisecond),
		Time:     model.Microtime(start.at),
	}
	if conn != nil {
		q.Connection = conn.Config().Database
	}
	if data.Err != nil {
		q.Tags = append(q.Tags, "error")
	}
	cw.AddDatabaseQuery(q)
}
