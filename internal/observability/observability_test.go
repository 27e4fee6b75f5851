package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestTiming(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(RequestTiming)
	r.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/items/7", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d", w.Code)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["http.route"].AsString(); got != "/api/items/{id}" {
		t.Errorf("http.route = %q", got)
	}
	if got := attrs["http.status_code"].AsInt64(); got != http.StatusTeapot {
		t.Errorf("http.status_code = %d", got)
	}
}

func TestTracingDisabled(t *testing.T) {
	tr := InitTracer(context.Background(), false, "", "test")
	if tr.Enabled() {
		t.Error("Enabled() = true")
	}
	tr.Shutdown()

	var zero *Tracing
	zero.Shutdown()
}

func TestTracingEnabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		otel.SetTextMapPropagator(prevProp)
	})

	// The gRPC connection is lazy, so an unreachable collector still yields a provider.
	tr := InitTracer(context.Background(), true, "127.0.0.1:1", "test")
	if !tr.Enabled() {
		t.Fatal("Enabled() = false")
	}
	tr.Shutdown()
}
