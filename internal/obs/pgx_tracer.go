package obs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

// PGXTracer emits one client span per statement, and one per batch for the
// outcome and snapshot writes that go through pgx.Batch.
type PGXTracer struct{}

var (
	_ pgx.QueryTracer = PGXTracer{}
	_ pgx.BatchTracer = PGXTracer{}
)

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := statementVerb(data.SQL)
	ctx, _ = startDBSpan(ctx, "pgx "+op,
		attribute.String("db.operation", op),
		attribute.String("db.statement", clip(data.SQL)),
		attribute.Int("db.args", len(data.Args)),
	)
	return ctx
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	endDBSpan(trace.SpanFromContext(ctx), data.Err, data.CommandTag.RowsAffected())
}

func (PGXTracer) TraceBatchStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchStartData) context.Context {
	size := 0
	if data.Batch != nil {
		size = data.Batch.Len()
	}
	ctx, _ = startDBSpan(ctx, "pgx BATCH", attribute.Int("db.batch_size", size))
	return ctx
}

// TraceBatchQuery marks each queued statement as an event on the batch span.
func (PGXTracer) TraceBatchQuery(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchQueryData) {
	attrs := []attribute.KeyValue{attribute.String("db.operation", statementVerb(data.SQL))}
	if data.Err != nil {
		attrs = append(attrs, attribute.String("error", data.Err.Error()))
	}
	trace.SpanFromContext(ctx).AddEvent("batch.query", trace.WithAttributes(attrs...))
}

func (PGXTracer) TraceBatchEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceBatchEndData) {
	endDBSpan(trace.SpanFromContext(ctx), data.Err, -1)
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "postgresql"))
	return otel.Tracer("pricing/pgx").Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// endDBSpan treats pgx.ErrNoRows as a normal result. rows < 0 means unknown.
func endDBSpan(span trace.Span, err error, rows int64) {
	switch {
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case rows >= 0:
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	span.End()
}

func statementVerb(sql string) string {
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		verb, _, _ := strings.Cut(line, " ")
		return strings.ToUpper(verb)
	}
	return "QUERY"
}

func clip(sql string) string {
	sql = strings.TrimSpace(sql)
	if len(sql) > maxStatementLen {
		return sql[:maxStatementLen] + "..."
	}
	return sql
}
