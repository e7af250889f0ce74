package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/accountable/accountable-backend/api/responses"
	"github.com/accountable/accountable-backend/pkg/config"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
)

const maxAuthBodyBytes = 64 << 10

// RateCounter counts attempts per scope in fixed windows.
type RateCounter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// AuthRateLimitPolicy throttles one auth surface by caller address and by the
// email in the request body. A zero limit turns that dimension off.
type AuthRateLimitPolicy struct {
	Name     string
	Window   time.Duration
	PerIP    int
	PerEmail int
}

func SignInPolicy(cfg config.AuthRateLimitConfig) AuthRateLimitPolicy {
	return AuthRateLimitPolicy{Name: "signin", Window: cfg.LoginWindow, PerIP: cfg.LoginIPLimit, PerEmail: cfg.LoginEmailLimit}
}

func SignUpPolicy(cfg config.AuthRateLimitConfig) AuthRateLimitPolicy {
	return AuthRateLimitPolicy{Name: "signup", Window: cfg.RegisterWindow, PerIP: cfg.RegisterIPLimit, PerEmail: cfg.RegisterEmailLimit}
}

// PasswordResetPolicy reuses the registration budget under its own counters.
func PasswordResetPolicy(cfg config.AuthRateLimitConfig) AuthRateLimitPolicy {
	return AuthRateLimitPolicy{Name: "password_reset", Window: cfg.RegisterWindow, PerIP: cfg.RegisterIPLimit, PerEmail: cfg.RegisterEmailLimit}
}

func (p AuthRateLimitPolicy) enabled() bool {
	return p.Window > 0 && (p.PerIP > 0 || p.PerEmail > 0)
}

func (p AuthRateLimitPolicy) scope(dimension, value string) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "auth"
	}
	return "auth:" + name + ":" + dimension + ":" + value
}

type rateCheck struct {
	dimension string
	value     string
	limit     int
}

// AuthRateLimit rejects callers past the policy with 429 and a Retry-After
// header. While the shared counter is unreachable each instance falls back to
// its own token buckets sized from the same policy.
func AuthRateLimit(policy AuthRateLimitPolicy, counter RateCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() {
			return next
		}
		local := newLocalBuckets(policy.Window)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var checks []rateCheck
			if policy.PerIP > 0 {
				if ip := clientIP(r); ip != "" {
					checks = append(checks, rateCheck{dimension: "ip", value: ip, limit: policy.PerIP})
				}
			}
			if policy.PerEmail > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBodyBytes))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				if email := emailFromBody(body); email != "" {
					checks = append(checks, rateCheck{dimension: "email", value: digest(email), limit: policy.PerEmail})
				}
			}

			for _, check := range checks {
				scope := policy.scope(check.dimension, check.value)
				allowed, attempts, err := allowAttempt(ctx, counter, scope, int64(check.limit), policy.Window)
				if err != nil {
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "policy", policy.Name), "auth.rate_limit.counter_unavailable: "+err.Error())
					}
					allowed = local.allow(scope, check.limit)
				}
				if !allowed {
					rejectAttempt(ctx, logg, w, policy, check, attempts)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowAttempt(ctx context.Context, counter RateCounter, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if counter == nil {
		return false, 0, pkgerrors.New(pkgerrors.CodeDependency, "rate counter not configured")
	}
	return counter.FixedWindowAllow(ctx, scope, limit, window)
}

func rejectAttempt(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy AuthRateLimitPolicy, check rateCheck, attempts int64) {
	retryAfter := int(policy.Window.Round(time.Second).Seconds())
	if logg != nil {
		fields := map[string]any{
			"policy":         policy.Name,
			"dimension":      check.dimension,
			"attempts":       attempts,
			"limit":          check.limit,
			"window_seconds": retryAfter,
		}
		if check.dimension == "ip" {
			fields["ip"] = check.value
		} else {
			fields["email_hash"] = check.value
		}
		logg.Warn(logg.WithFields(ctx, fields), "auth.rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, try again later").
		WithDetails(map[string]any{"retry_after_seconds": retryAfter}))
}

// localBuckets is the per-instance fallback. Buckets refill over one window.
type localBuckets struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[string]*rate.Limiter
}

const maxLocalBuckets = 10000

func newLocalBuckets(window time.Duration) *localBuckets {
	return &localBuckets{window: window, buckets: map[string]*rate.Limiter{}}
}

func (l *localBuckets) allow(scope string, limit int) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[scope]
	if !ok {
		if len(l.buckets) >= maxLocalBuckets {
			l.buckets = map[string]*rate.Limiter{}
		}
		bucket = rate.NewLimiter(rate.Every(l.window/time.Duration(limit)), limit)
		l.buckets[scope] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// clientIP prefers the first forwarded hop, which the load balancer sets.
func clientIP(r *http.Request) string {
	candidates := []string{r.Header.Get("X-Real-IP")}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		candidates = append([]string{first}, candidates...)
	}
	for _, candidate := range candidates {
		if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
			return addr.Unmap().String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func emailFromBody(payload []byte) string {
	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Email))
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
