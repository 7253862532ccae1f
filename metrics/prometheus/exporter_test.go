package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExporterAddrReportsConfiguredAddress(t *testing.T) {
	e := NewExporter("127.0.0.1:0")
	if e.Addr() != "127.0.0.1:0" {
		t.Errorf("expected Addr to echo the configured address, got %q", e.Addr())
	}
}

func TestExporterHandlerServesMetrics(t *testing.T) {
	e := NewExporter("127.0.0.1:0")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestExporterStartAndShutdown(t *testing.T) {
	e := NewExporter("127.0.0.1:0")

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start() }()

	// Start binds its listener asynchronously; give it a moment before
	// asking it to stop.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			t.Fatalf("Start returned unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
