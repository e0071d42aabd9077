package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	beforeTeapot := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418"))
	beforeOK := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))

	for _, path := range []string{"/teapot", "/ok"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418")) - beforeTeapot; got != 1 {
		t.Errorf("expected one 418 recorded, got %f", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")) - beforeOK; got != 1 {
		t.Errorf("expected one 200 recorded, got %f", got)
	}
}
