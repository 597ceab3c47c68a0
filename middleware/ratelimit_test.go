package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/middleware"
)

func TestClientIP(t *testing.T) {
	var got string
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = marketauth.ClientIPFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	middleware.ClientIP(false)(capture).ServeHTTP(httptest.NewRecorder(), req)
	if got != "192.0.2.1" {
		t.Fatalf("expected remote address, got %q", got)
	}

	middleware.ClientIP(true)(capture).ServeHTTP(httptest.NewRecorder(), req)
	if got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	lim := middleware.NewRateLimiter(0.001, 2)
	h := middleware.ClientIP(false)(lim.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("192.0.2.1:1000"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("192.0.2.1:1001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("192.0.2.2:1000"); code != http.StatusOK {
		t.Fatalf("expected other IP to pass, got %d", code)
	}
}
