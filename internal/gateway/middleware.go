package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/meshgate/internal/logging"
)

const requestIDHeader = "X-Request-ID"

type middleware func(http.Handler) http.Handler

// chain applies mws so the first one sees the request first.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// withMiddleware tags each request with an id, logs it and then checks auth.
func withMiddleware(handler http.Handler, log *logging.Logger, token string, limiter *authRateLimiter) http.Handler {
	return chain(handler,
		requestScope(log),
		accessLog,
		requireToken(token, limiter),
	)
}

// requestScope assigns the request id (reusing a caller-supplied one) and
// puts a logger carrying it into the request context.
func requestScope(log *logging.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := log.With("request_id", id).WithContext(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		reqLog(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("control request")
	})
}

// requireToken guards everything but /health when a token is configured.
// Hosts with too many recent failures are refused before the token is read.
func requireToken(token string, limiter *authRateLimiter) middleware {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			log := reqLog(r)
			if !limiter.allow(r.RemoteAddr) {
				log.Warn().Str("remote", r.RemoteAddr).Msg("auth rate limit hit")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			res := Authorize(token, bearerToken(r))
			if !res.OK {
				limiter.recordFailure(r.RemoteAddr)
				log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("rejected control request")
				writeError(w, http.StatusUnauthorized, res.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reqLog is the request-scoped logger, or a disabled one outside the chain.
func reqLog(r *http.Request) *logging.Logger {
	return logging.FromContext(r.Context(), discard)
}

var discard = logging.New(nil, "silent")

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
