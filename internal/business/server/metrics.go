package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/config"
)

// instrumentation wraps the session API handlers with request IDs, spans
// and the request count and duration meters.
type instrumentation struct {
	app      commoncfg.Application
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstrumentation(cfg *config.Config) (*instrumentation, error) {
	meter := otel.Meter(
		"session-keeper/http",
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	requests, err := meter.Int64Counter(
		"keeper.http.requests",
		metric.WithDescription("Session API requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"keeper.http.duration",
		metric.WithDescription("Session API request duration, proxied calls included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &instrumentation{
		app:      cfg.Application,
		requests: requests,
		duration: duration,
	}, nil
}

func (in *instrumentation) wrap(operationID string, next http.Handler) http.Handler {
	opAttr := attribute.String(commoncfg.AttrOperation, operationID)
	tracer := otel.Tracer("session-keeper/http",
		trace.WithInstrumentationAttributes(otlp.CreateAttributesFrom(in.app)...))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = slogctx.With(ctx,
			commoncfg.AttrRequestID, uuid.NewString(),
			commoncfg.AttrOperation, operationID,
		)

		ctx, span := tracer.Start(ctx, operationID,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(opAttr, attribute.String("http.request.method", r.Method)))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))

		attrs := metric.WithAttributes(opAttr, attribute.String("status", strconv.Itoa(rec.status)))
		in.requests.Add(ctx, 1, attrs)
		in.duration.Record(ctx, time.Since(start).Seconds(), attrs)

		slogctx.Debug(ctx, "Served request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}

	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
