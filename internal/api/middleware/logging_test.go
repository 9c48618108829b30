package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestLogging(t *testing.T) {
	var seenID, seenRoute string
	r := mux.NewRouter()
	r.Use(Logging)
	r.HandleFunc("/api/sources/{id}/sync", func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		seenRoute = routeTemplate(r)
		w.WriteHeader(http.StatusAccepted)
	}).Methods("POST")

	t.Run("generates request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sources/abc/sync", nil))

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		id := rec.Header().Get(RequestIDHeader)
		if id == "" || id != seenID {
			t.Errorf("response id %q, handler saw %q", id, seenID)
		}
		if seenRoute != "/api/sources/{id}/sync" {
			t.Errorf("route = %q", seenRoute)
		}
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/sources/abc/sync", nil)
		req.Header.Set(RequestIDHeader, "trace-42")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "trace-42" || seenID != "trace-42" {
			t.Errorf("id = %q / %q, want trace-42", got, seenID)
		}
	})

	t.Run("recorder passes through hijack support", func(t *testing.T) {
		rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		if _, _, err := rec.Hijack(); err == nil {
			t.Error("expected an error from a non-hijackable writer")
		}
	})
}
