package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 2)
	rl.now = func() time.Time { return now }

	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	get := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/feeds/p1.ics", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("burst then reject", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if rec := get("10.0.0.1:5000"); rec.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
			}
		}
		rec := get("10.0.0.1:5001")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	})

	t.Run("other clients unaffected", func(t *testing.T) {
		if rec := get("10.0.0.2:5000"); rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("tokens refill", func(t *testing.T) {
		now = now.Add(time.Second)
		if rec := get("10.0.0.1:5000"); rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("idle clients evicted", func(t *testing.T) {
		now = now.Add(11 * time.Minute)
		get("10.0.0.3:5000")
		rl.mu.Lock()
		n := len(rl.visitors)
		rl.mu.Unlock()
		if n != 1 {
			t.Errorf("visitors = %d, want 1", n)
		}
	})
}
