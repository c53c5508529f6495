package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveQuery(t *testing.T) {
	before := testutil.ToFloat64(queriesTotal.WithLabelValues(KindClosest, OutcomeFound))
	ObserveQuery(KindClosest, OutcomeFound, 3)
	after := testutil.ToFloat64(queriesTotal.WithLabelValues(KindClosest, OutcomeFound))

	if after-before != 1 {
		t.Errorf("queries_total increased by %v, want 1", after-before)
	}
}

func TestAddIngested(t *testing.T) {
	before := testutil.ToFloat64(recordsIngested)
	AddIngested(42)
	if got := testutil.ToFloat64(recordsIngested) - before; got != 42 {
		t.Errorf("records_ingested increased by %v, want 42", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/satellites/{satellite_id}/position", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := httpRequestsTotal.WithLabelValues("/satellites/{satellite_id}/position", http.MethodGet, "404")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodGet, "/satellites/"+id+"/position", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("route counter increased by %v, want 3", got)
	}
}
