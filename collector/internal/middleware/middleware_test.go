package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestCORSPreflight(t *testing.T) {
	h := CORS{AllowedOrigins: []string{"https://shop.example.com"}, MaxAge: time.Hour}.Wrap(ok)

	req := httptest.NewRequest(http.MethodOptions, "/i", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "3600" {
		t.Fatalf("unexpected max age %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Fatalf("expected allow headers")
	}
}

func TestCORSOrigins(t *testing.T) {
	cases := []struct {
		allowed []string
		origin  string
		want    string
	}{
		{nil, "https://a.example", "*"},
		{[]string{"https://a.example"}, "https://b.example", ""},
		{[]string{"*"}, "https://b.example", "*"},
		{[]string{"https://A.example"}, "https://a.example", "https://a.example"},
	}
	for _, tc := range cases {
		if got := (CORS{AllowedOrigins: tc.allowed}).allowOrigin(tc.origin); got != tc.want {
			t.Fatalf("allowed=%v origin=%s: got %q want %q", tc.allowed, tc.origin, got, tc.want)
		}
	}
}

func TestRateLimitPerClient(t *testing.T) {
	limiter := NewClientLimiter(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	h := RateLimit{Limiter: limiter}.Wrap(ok)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/i", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("10.0.0.1") != http.StatusNoContent || send("10.0.0.1") != http.StatusNoContent {
		t.Fatalf("burst should be allowed")
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusNoContent {
		t.Fatalf("other clients are not limited, got %d", code)
	}

	now = now.Add(time.Second)
	if code := send("10.0.0.1"); code != http.StatusNoContent {
		t.Fatalf("token should refill, got %d", code)
	}
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewClientLimiter(1, 1, time.Minute)
	now := time.Unix(0, 0)
	limiter.now = func() time.Time { return now }
	limiter.Allow("a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")
	if limiter.Len() != 1 {
		t.Fatalf("expected idle client to be dropped, have %d", limiter.Len())
	}
}
