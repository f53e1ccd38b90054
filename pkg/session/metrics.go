package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/openkcm/session-keeper/pkg/session"

type metrics struct {
	refreshes     metric.Int64Counter
	coalesced     metric.Int64Counter
	monitorTicks  metric.Int64Counter
	anomalies     metric.Int64Counter
	invalidations metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)

	return &metrics{
		refreshes:     counter(meter, "session.refresh_count", "Identity bridge refresh calls by outcome", "call"),
		coalesced:     counter(meter, "session.refresh_coalesced", "Refresh requests served by an in-flight call", "request"),
		monitorTicks:  counter(meter, "session.monitor_ticks", "Expiry monitor ticks by decision", "tick"),
		anomalies:     counter(meter, "session.expiry_anomalies", "Refreshed tokens that decode badly or expire earlier", "token"),
		invalidations: counter(meter, "session.invalidations", "Sessions ended by logout or terminal refresh failure", "session"),
	}
}

func counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}

	return c
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, key, value string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}
