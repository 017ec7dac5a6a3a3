package api

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/logging"
)

// multipartOverhead leaves room for form fields and part headers around the file
const multipartOverhead = 1 << 20

// LoggingMiddleware logs HTTP requests and puts a request scoped logger in the context.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := logging.GetGlobalLogger().WithField("requestId", requestID)
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     wrapped.statusCode,
			"durationMs": time.Since(start).Milliseconds(),
			"remoteAddr": clientIP(r),
		}).Info("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware recovers from panics and returns 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.FromContext(r.Context()).WithField("panic", err).Error("Recovered from panic")
				respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal server error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers for the allowed origins. "*" allows any origin.
func CORSMiddleware(allowed []string) func(http.Handler) http.Handler {
	anyOrigin := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
		}
		set[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && set[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionMiddleware attaches the caller's session when the request carries a
// valid token. Requests without one continue anonymously; handlers and the
// service decide what an anonymous caller may do.
func SessionMiddleware(resolver SessionResolverInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				next.ServeHTTP(w, r)
				return
			}
			session, err := resolver.ResolveRequest(r)
			if err != nil {
				if !errors.Is(err, auth.ErrMissingToken) {
					logging.FromContext(r.Context()).WithError(err).Debug("Rejected session token")
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := auth.WithSession(r.Context(), session)
			logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
				"actorId":   session.ActorID,
				"companyId": session.CompanyID,
			})
			next.ServeHTTP(w, r.WithContext(logging.WithLogger(ctx, logger)))
		})
	}
}

// BodyLimitMiddleware caps request bodies at limit bytes
func BodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				respondError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "The request body is too large.", map[string]interface{}{
					"limit": limit,
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// ClientThrottle keeps one token bucket per client. It protects the process
// from request floods; import quota is enforced separately in Redis.
type ClientThrottle struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientThrottle allows perMinute requests per client with a burst of a
// tenth of that. Limiters unused for idle are evicted. perMinute <= 0 disables the throttle.
func NewClientThrottle(perMinute int, idle time.Duration) *ClientThrottle {
	if perMinute <= 0 {
		return &ClientThrottle{limit: rate.Inf}
	}
	burst := perMinute / 10
	if burst < 5 {
		burst = 5
	}
	return &ClientThrottle{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		idle:     idle,
	}
}

// Allow reports whether the client may make a request now
func (t *ClientThrottle) Allow(key string) bool {
	if t.limit == rate.Inf {
		return true
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.limiters[key]
	if !ok {
		t.evict(now)
		cl = &clientLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// evict drops idle limiters; callers hold mu
func (t *ClientThrottle) evict(now time.Time) {
	if t.idle <= 0 {
		return
	}
	for key, cl := range t.limiters {
		if now.Sub(cl.lastSeen) > t.idle {
			delete(t.limiters, key)
		}
	}
}

// ThrottleMiddleware rejects clients that exceed their request budget. The
// client is the session's actor when known, else the remote address.
func ThrottleMiddleware(t *ClientThrottle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			key := "ip:" + clientIP(r)
			if session, ok := auth.FromContext(r.Context()); ok {
				key = "actor:" + session.ActorID
			}
			if !t.Allow(key) {
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests. Please slow down.", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
