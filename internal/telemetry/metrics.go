package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the OpenTelemetry instruments recorded by the session
// subsystem. They report through whatever meter provider is global when
// NewInstruments is called.
type Instruments struct {
	RefreshDuration metric.Float64Histogram
	LogoutCounter   metric.Int64Counter
}

// NewInstruments creates the instruments on the global meter provider.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter("accountgate/session")

	refresh, err := meter.Float64Histogram(
		"accountgate.session.refresh.duration",
		metric.WithDescription("Session refresh duration including retries"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000),
	)
	if err != nil {
		return nil, err
	}
	logouts, err := meter.Int64Counter(
		"accountgate.session.logout.count",
		metric.WithDescription("Logouts by server-side outcome"),
		metric.WithUnit("{logout}"),
	)
	if err != nil {
		return nil, err
	}
	return &Instruments{RefreshDuration: refresh, LogoutCounter: logouts}, nil
}

// RecordRefresh records one refresh run.
func (i *Instruments) RecordRefresh(ctx context.Context, result string, elapsed time.Duration) {
	i.RefreshDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("result", result)))
}

// RecordLogout records one logout.
func (i *Instruments) RecordLogout(ctx context.Context, result string) {
	i.LogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
