package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/stbemu/internal/version"
	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

// profileRoutes mounts handlers shaped like the profile API.
type profileRoutes struct{}

func (profileRoutes) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/profiles", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []string{})
	})
	mux.HandleFunc("POST /api/v1/profiles/{id}/activate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type ctxKey struct{}

// copyingAuth mimics auth.Middleware: it admits everyone but hands the mux
// a copied request, as attaching claims does.
func copyingAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, "admin")))
	})
}

func newAPI(t *testing.T, cfg Config, auth Middleware) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	m := newManager(t, map[string]*stubPlugin{
		"mag-api": {routes: []plugin.Route{
			{Method: "POST", Path: "/keys", Handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			}},
			{Method: "GET", Path: "/crash", Handler: func(http.ResponseWriter, *http.Request) {
				panic("portal script failed")
			}},
		}},
	}, "mag-api")
	srv := New(cfg, m, zap.New(core), nil, auth, profileRoutes{})
	return srv.Handler(), logs
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, http.NoBody))
	return w
}

func TestRequestID_on_plugin_listing(t *testing.T) {
	h, _ := newAPI(t, Config{}, nil)

	w := serve(h, "GET", "/api/v1/plugins")
	if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("X-Request-ID = %q, want a uuid", w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest("GET", "/api/v1/plugins", http.NoBody)
	req.Header.Set("X-Request-ID", "remote-42")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "remote-42" {
		t.Errorf("X-Request-ID = %q, want propagated remote-42", got)
	}
}

func TestAccessLog_attributes_routes(t *testing.T) {
	h, logs := newAPI(t, Config{}, copyingAuth)

	serve(h, "POST", "/api/v1/mag-api/keys")
	serve(h, "POST", "/api/v1/profiles/kitchen/activate")
	serve(h, "GET", "/api/v1/plugins/mag-api")
	serve(h, "GET", "/healthz")

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 3 {
		t.Fatalf("logged %d requests, want 3 (healthz is quiet)", len(entries))
	}
	tests := []struct {
		route  string
		plugin string
		status int64
	}{
		{"/api/v1/mag-api/keys", "mag-api", http.StatusAccepted},
		{"/api/v1/profiles/{id}/activate", "", http.StatusNoContent},
		{"/api/v1/plugins/{id}", "", http.StatusOK},
	}
	for i, tt := range tests {
		fields := entries[i].ContextMap()
		if fields["route"] != tt.route {
			t.Errorf("entry %d route = %v, want %s", i, fields["route"], tt.route)
		}
		if p, _ := fields["plugin"].(string); p != tt.plugin {
			t.Errorf("entry %d plugin = %q, want %q", i, p, tt.plugin)
		}
		if fields["status"] != tt.status {
			t.Errorf("entry %d status = %v, want %d", i, fields["status"], tt.status)
		}
		if fields["request_id"] == "" {
			t.Errorf("entry %d has no request id", i)
		}
	}
}

func TestMetrics_label_by_route(t *testing.T) {
	h, _ := newAPI(t, Config{}, copyingAuth)
	activate := httpRequestsTotal.WithLabelValues("POST", "/api/v1/profiles/{id}/activate", "", "204")
	keys := httpRequestsTotal.WithLabelValues("POST", "/api/v1/mag-api/keys", "mag-api", "202")
	unmatched := httpRequestsTotal.WithLabelValues("GET", "unmatched", "", "404")
	beforeActivate, beforeKeys, beforeUnmatched := testutil.ToFloat64(activate), testutil.ToFloat64(keys), testutil.ToFloat64(unmatched)

	serve(h, "POST", "/api/v1/profiles/kitchen/activate")
	serve(h, "POST", "/api/v1/profiles/den/activate")
	serve(h, "POST", "/api/v1/mag-api/keys")
	serve(h, "GET", "/api/v1/nowhere")

	if d := testutil.ToFloat64(activate) - beforeActivate; d != 2 {
		t.Errorf("activate series grew by %v, want 2 (one series for every profile id)", d)
	}
	if d := testutil.ToFloat64(keys) - beforeKeys; d != 1 {
		t.Errorf("mag-api series grew by %v, want 1", d)
	}
	if d := testutil.ToFloat64(unmatched) - beforeUnmatched; d != 1 {
		t.Errorf("unmatched series grew by %v, want 1", d)
	}
}

func TestHeaders_on_profile_endpoints(t *testing.T) {
	h, _ := newAPI(t, Config{}, nil)

	for _, target := range []string{"/api/v1/profiles", "/healthz"} {
		w := serve(h, "GET", target)
		want := map[string]string{
			"X-Stbemu-Version":        version.Short(),
			"Content-Security-Policy": "default-src 'none'",
			"X-Frame-Options":         "DENY",
			"X-Content-Type-Options":  "nosniff",
			"Referrer-Policy":         "no-referrer",
		}
		for k, v := range want {
			if got := w.Header().Get(k); got != v {
				t.Errorf("%s: %s = %q, want %q", target, k, got, v)
			}
		}
	}
}

func TestRateLimit_profile_switches_not_health(t *testing.T) {
	h, _ := newAPI(t, Config{RateLimit: 1, RateBurst: 2}, nil)

	for i := 0; i < 2; i++ {
		if w := serve(h, "POST", "/api/v1/profiles/kitchen/activate"); w.Code != http.StatusNoContent {
			t.Fatalf("switch %d: status = %d", i, w.Code)
		}
	}
	w := serve(h, "POST", "/api/v1/profiles/kitchen/activate")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third switch status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil || p.Type != ProblemTypeRateLimited {
		t.Errorf("problem = %+v, %v", p, err)
	}

	for i := 0; i < 5; i++ {
		if w := serve(h, "GET", "/healthz"); w.Code != http.StatusOK {
			t.Fatalf("healthz %d: status = %d, want 200", i, w.Code)
		}
	}

	req := httptest.NewRequest("POST", "/api/v1/profiles/kitchen/activate", http.NoBody)
	req.RemoteAddr = "192.0.2.77:4000"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("other client status = %d, want its own bucket", w.Code)
	}
}

func TestRecovery_plugin_route_panic(t *testing.T) {
	h, logs := newAPI(t, Config{}, nil)

	w := serve(h, "GET", "/api/v1/mag-api/crash")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	entries := logs.FilterMessage("panic recovered").All()
	if len(entries) != 1 {
		t.Fatalf("panic log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["plugin"]; got != "mag-api" {
		t.Errorf("panic attributed to %v, want mag-api", got)
	}

	// The server keeps serving after a plugin panic.
	if w := serve(h, "GET", "/api/v1/plugins"); w.Code != http.StatusOK {
		t.Errorf("after panic status = %d", w.Code)
	}
}

func TestClientLimiters_sweep_idle(t *testing.T) {
	lim := newClientLimiters(rate.Limit(1), 1, time.Minute)
	t0 := time.Unix(1_700_000_000, 0)

	if !lim.allow("a", t0) || lim.allow("a", t0) {
		t.Fatal("burst of one not enforced")
	}
	lim.allow("b", t0.Add(30*time.Second))
	if lim.len() != 2 {
		t.Fatalf("buckets = %d, want 2", lim.len())
	}
	// a has been idle for a minute, b only for 30s.
	if !lim.allow("c", t0.Add(61*time.Second)) {
		t.Error("new client refused")
	}
	if lim.len() != 2 {
		t.Errorf("buckets = %d after sweep, want 2 (b and c)", lim.len())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct peer", "192.0.2.9:5555", "", "192.0.2.9"},
		{"remote peer cannot spoof", "192.0.2.9:5555", "10.0.0.1", "192.0.2.9"},
		{"local proxy forwards", "127.0.0.1:5555", "10.0.0.1, 127.0.0.1", "10.0.0.1"},
		{"ipv6 loopback proxy", "[::1]:5555", "10.0.0.2", "10.0.0.2"},
		{"no port", "192.0.2.9", "", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/plugins", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusWriter_unwraps_for_upgrades(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
	if sw.Unwrap() != rec {
		t.Error("Unwrap() does not return the wrapped writer")
	}
	sw.WriteHeader(http.StatusConflict)
	sw.WriteHeader(http.StatusOK)
	if sw.status != http.StatusConflict {
		t.Errorf("status = %d, want first written 409", sw.status)
	}
}
