package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, slog.Default())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_RequiresWriter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true}, slog.Default()); err == nil {
		t.Error("expected error without writer")
	}
}

func TestInit_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "accountgate-test",
		Writer:         &buf,
		MetricInterval: time.Hour,
	}, slog.Default())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	inst, err := NewInstruments()
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	_, span := StartSpan(context.Background(), TracerService, "test.Span")
	RecordError(span, errors.New("boom"))
	span.End()
	inst.RecordRefresh(context.Background(), "ok", 20*time.Millisecond)
	inst.RecordLogout(context.Background(), "ok")

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"test.Span", "accountgate.session.refresh.duration", "accountgate.session.logout.count"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("export output missing %q", want)
		}
	}
}

func TestRecordError_NilIgnored(t *testing.T) {
	t.Parallel()

	span := noop.Span{}
	RecordError(span, nil)
}
