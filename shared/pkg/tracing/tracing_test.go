package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNoopProvider(t *testing.T) {
	p := Noop()

	ctx, span := p.StartSpan(context.Background(), "gateway.get_job", attribute.String("job.id", "abc"))
	SetError(ctx, errors.New("boom"))
	span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	p.Inject(ctx, req)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestInitTracerDisabled(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "genctl", Enabled: false})
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if p.tp != nil {
		t.Errorf("disabled tracing should not create an SDK provider")
	}
}
