package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/stbemu/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prometheus HTTP metrics. The plugin label is empty for core routes and
// holds the owning plugin id for routes mounted under /api/v1/{plugin}/.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stbemu_http_requests_total",
			Help: "Total number of admin API requests.",
		},
		[]string{"method", "route", "plugin", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stbemu_http_request_duration_seconds",
			Help:    "Admin API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "plugin"},
	)
	httpRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stbemu_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpRateLimited)
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// requestMeta is shared by pointer through the request context. Auth and
// other wrappers copy the *http.Request, so the pattern the mux matches is
// only visible to outer middleware through here.
type requestMeta struct {
	id     string
	route  string
	plugin string
}

type requestMetaKey struct{}

func metaFrom(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(*requestMeta)
	if m == nil {
		return &requestMeta{}
	}
	return m
}

// requestIDMiddleware propagates X-Request-ID or assigns a fresh one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestMetaKey{}, &requestMeta{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// routeRecorder sits directly around the mux and records the matched route
// and, for plugin routes, the plugin that mounted it. owners maps full mux
// patterns to plugin ids.
func routeRecorder(owners map[string]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				m := metaFrom(r.Context())
				m.route = routePath(r)
				m.plugin = owners[r.Pattern]
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// accessLogMiddleware logs API requests and records per-route metrics.
// Operational paths are counted but not logged.
func accessLogMiddleware(logger *zap.Logger, quiet []string) Middleware {
	skip := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			m := metaFrom(r.Context())
			route := m.route
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(r.Method, route, m.plugin, strconv.Itoa(sw.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, m.plugin).Observe(elapsed.Seconds())

			if skip[r.URL.Path] {
				return
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", sw.status),
				zap.Duration("duration", elapsed),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", m.id),
			}
			if m.plugin != "" {
				fields = append(fields, zap.String("plugin", m.plugin))
			}
			logger.Info("http request", fields...)
		})
	}
}

// headersMiddleware sets the response headers every admin API reply carries.
// The API only serves JSON, so the content security policy denies everything.
func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Stbemu-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns a panicking handler, typically a plugin route,
// into a 500 problem response.
func recoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					m := metaFrom(r.Context())
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("plugin", m.plugin),
						zap.String("request_id", m.id),
					)
					InternalError(w, "an unexpected error occurred", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware gives each client its own token bucket. Operational
// paths are exempt so health checks and scrapes never see 429.
func rateLimitMiddleware(rps float64, burst int, exempt []string) Middleware {
	lim := newClientLimiters(rate.Limit(rps), burst, 10*time.Minute)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !skip[r.URL.Path] && !lim.allow(clientIP(r), time.Now()) {
				httpRateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				RateLimited(w, "rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiters holds one limiter per client address. Buckets idle for
// longer than idle are swept at most once per idle interval.
type clientLimiters struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

func newClientLimiters(limit rate.Limit, burst int, idle time.Duration) *clientLimiters {
	return &clientLimiters{limit: limit, burst: burst, idle: idle, buckets: make(map[string]*bucket)}
}

func (c *clientLimiters) allow(client string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) >= c.idle {
		for k, b := range c.buckets {
			if now.Sub(b.seen) >= c.idle {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = now
	}
	b, ok := c.buckets[client]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(c.limit, c.burst)}
		c.buckets[client] = b
	}
	b.seen = now
	return b.AllowN(now, 1)
}

func (c *clientLimiters) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}

// clientIP returns the peer address. X-Forwarded-For is honoured only when
// the peer is loopback, i.e. a reverse proxy on the same host.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if peer := net.ParseIP(ip); peer == nil || !peer.IsLoopback() {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return ip
}

// statusWriter records the status code a handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the event stream's websocket upgrade needs.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// routePath strips the method from the matched pattern so metric labels
// stay bounded ("/api/v1/profiles/{id}" rather than one series per profile).
func routePath(r *http.Request) string {
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}
