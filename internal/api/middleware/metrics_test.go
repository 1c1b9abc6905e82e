package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/v1/appointments/{appointmentID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a1", "a2", "a3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/appointments/{appointmentID}", "204"))
	if got != 3 {
		t.Errorf("счётчик по шаблону маршрута = %v, ожидалось 3", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")); got != 1 {
		t.Errorf("счётчик unmatched = %v, ожидалось 1", got)
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if _, err := rw.Write([]byte("ok")); err != nil {
		t.Fatal(err)
	}
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, ожидалось 200", rw.statusCode)
	}
	if rw.written != 2 {
		t.Errorf("written = %d, ожидалось 2", rw.written)
	}
}
