package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://fireflydesigns.me", "*.example.com"}
	cases := []struct {
		origin string
		want   bool
	}{
		{"https://fireflydesigns.me", true},
		{"https://evil.test", false},
		{"https://app.example.com", true},
		{"https://example.com", true},
		{"https://notexample.com", false},
	}
	for _, c := range cases {
		if got := isOriginAllowed(c.origin, allowed); got != c.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", c.origin, got, c.want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := &corsConfig{permissive: true}
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not run on preflight")
	}), cfg)

	req := httptest.NewRequest(http.MethodOptions, "/authorize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRateLimiterWindow(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: 50 * time.Millisecond}
	rl := &ipRateLimiter{visitors: make(map[string]*visitor), cfg: cfg}

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("third request should be limited")
	}
	// Other IPs are tracked independently.
	if !rl.allow("5.6.7.8") {
		t.Fatal("separate IP should pass")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Fatal("request after window should pass")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute}
	rl := &ipRateLimiter{visitors: make(map[string]*visitor), cfg: cfg}
	for i := 0; i < 10; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestClientIPForwarded(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4567"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP with XFF = %q", got)
	}
}
