package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/futuresys/introbot/internal/auth"
	"github.com/futuresys/introbot/internal/log"
	"github.com/futuresys/introbot/internal/ratelimit"
	"github.com/futuresys/introbot/internal/testutil"
)

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(ServerConfig{Quota: ratelimit.New(1, 1)}); err == nil {
		t.Error("nil resolver accepted")
	}

	if _, err := NewServer(ServerConfig{Resolver: &nopResolver{}}); err == nil {
		t.Error("nil quota limiter accepted")
	}

	badAuth := &auth.Credentials{User: "admin", PasswordHash: "nope"}
	if _, err := NewServer(ServerConfig{Resolver: &nopResolver{}, Quota: ratelimit.New(1, 1), Auth: badAuth}); err == nil {
		t.Error("invalid auth credentials accepted")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := postAsk(t, srv, "/api/v1/ask", `{"question":"What does the company do?"}`)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	p, quota := testResolver(t)
	srv, err := NewServer(ServerConfig{
		Logger:      testutil.DiscardLogger(),
		Resolver:    p,
		Quota:       quota,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Unknown origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unknown origin got Allow-Origin %q", got)
	}
}

func TestBasicAuthProtectsAPI(t *testing.T) {
	p, quota := testResolver(t)
	creds := auth.Credentials{
		User:         "admin",
		PasswordHash: auth.HashPassword("letmein12", "salt"),
		Salt:         "salt",
	}
	srv, err := NewServer(ServerConfig{
		Logger:   testutil.DiscardLogger(),
		Resolver: p,
		Quota:    quota,
		Auth:     &creds,
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"Hi?"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"What does the company do?"}`))
	req.SetBasicAuth("admin", "letmein12")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}

	// Health probes stay reachable without credentials.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestReadyWithoutPool(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without a pool", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"unhealthy"`) {
		t.Errorf("body = %q, want unhealthy status", rec.Body.String())
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeCounter struct {
	n   int
	err error
}

func (c fakeCounter) Count(context.Context) (int, error) { return c.n, c.err }

type fakeProber struct{ err error }

func (p fakeProber) Probe(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		db         Pinger
		store      Counter
		generator  Prober
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all healthy",
			db:         fakePinger{},
			store:      fakeCounter{n: 42},
			generator:  fakeProber{},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:       "database down",
			db:         fakePinger{err: errors.New("dial refused")},
			store:      fakeCounter{n: 42},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "store unreachable",
			db:         fakePinger{},
			store:      fakeCounter{err: errors.New("relation missing")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "empty knowledge base degrades",
			db:         fakePinger{},
			store:      fakeCounter{n: 0},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "generator down degrades",
			db:         fakePinger{},
			store:      fakeCounter{n: 42},
			generator:  fakeProber{err: errors.New("connection refused")},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "no generator probe configured",
			db:         fakePinger{},
			store:      fakeCounter{n: 42},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := readiness(tt.db, tt.store, tt.generator, log.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), `"`+tt.wantStatus+`"`) {
				t.Errorf("body = %q, want status %q", rec.Body.String(), tt.wantStatus)
			}
		})
	}
}

func TestFloodGuard(t *testing.T) {
	t.Parallel()

	fg := newFloodGuard(1.0, 2)

	if !fg.allow("10.0.0.1") || !fg.allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if fg.allow("10.0.0.1") {
		t.Error("request beyond burst should be denied")
	}
	if !fg.allow("10.0.0.2") {
		t.Error("other IPs should have their own bucket")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.0.2.1:1234", nil, false, "192.0.2.1"},
		{"ignores headers without proxy trust", "192.0.2.1:1234", map[string]string{"X-Real-IP": "198.51.100.9"}, false, "192.0.2.1"},
		{"x-real-ip", "192.0.2.1:1234", map[string]string{"X-Real-IP": "198.51.100.9"}, true, "198.51.100.9"},
		{"x-forwarded-for first hop", "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.5, 198.51.100.9"}, true, "203.0.113.5"},
		{"invalid header falls back", "192.0.2.1:1234", map[string]string{"X-Real-IP": "not-an-ip"}, true, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(testutil.DiscardLogger())(panicking)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
