package gateway

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/meshgate/internal/config"
	"golang.org/x/time/rate"
)

// AuthResult is the outcome of checking a request's credentials.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ResolveToken returns the control token: config value, then
// MESHGATE_GATEWAY_TOKEN, then empty (auth disabled).
func ResolveToken(cfg config.GatewayConfig) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	return os.Getenv("MESHGATE_GATEWAY_TOKEN")
}

// Authorize checks a presented bearer token against the server token. An
// empty server token disables authentication.
func Authorize(serverToken, presented string) AuthResult {
	if serverToken == "" {
		return AuthResult{OK: true}
	}
	if presented == "" {
		return AuthResult{Reason: "token required"}
	}
	if !safeEqual(presented, serverToken) {
		return AuthResult{Reason: "token_mismatch"}
	}
	return AuthResult{OK: true}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// safeEqual compares in constant time without leaking the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter throttles failed bearer checks per client host. Each host
// gets a token bucket of authRateMaxFails failures refilling over
// authRateWindow; an empty bucket blocks the host until a token returns.
type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string]*hostBucket
	now   func() time.Time
}

type hostBucket struct {
	lim      *rate.Limiter
	lastFail time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxHosts = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{hosts: make(map[string]*hostBucket), now: time.Now}
}

// run forgets fully recovered hosts every minute until ctx ends.
func (l *authRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for host, b := range l.hosts {
		if b.lim.TokensAt(now) >= authRateMaxFails {
			delete(l.hosts, host)
		}
	}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[hostOf(remoteAddr)]
	return !ok || b.lim.TokensAt(l.now()) >= 1
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authRateMaxHosts {
			l.evictStalest()
		}
		b = &hostBucket{lim: rate.NewLimiter(rate.Every(authRateWindow/authRateMaxFails), authRateMaxFails)}
		l.hosts[host] = b
	}
	b.lim.AllowN(now, 1)
	b.lastFail = now
}

// evictStalest drops the host whose last failure is oldest. Caller holds mu.
func (l *authRateLimiter) evictStalest() {
	var stalest string
	var at time.Time
	for host, b := range l.hosts {
		if stalest == "" || b.lastFail.Before(at) {
			stalest, at = host, b.lastFail
		}
	}
	delete(l.hosts, stalest)
}
