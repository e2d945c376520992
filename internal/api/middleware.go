package api

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"docuchat/internal/auth"
	"docuchat/internal/observability"
)

const (
	requestIDHeader        = "X-Request-ID"
	maxRequestIDLength     = 64
	rateLimiterVisitorTTL  = 5 * time.Minute
	defaultRateLimitRPS    = 100.0
	defaultRateLimitBurst  = 200
	minimumCleanupInterval = 30 * time.Second

	// SECURITY TRADE-OFF: this cache balances database load against
	// deactivation responsiveness. A 30-second TTL means a deactivated
	// user could retain access for up to 30 seconds. Set to 0 for
	// instant revocation at the cost of a DB lookup per request.
	activeStatusCacheTTL = 30 * time.Second
)

// activeStatusEntry caches the result of a user active-status check.
type activeStatusEntry struct {
	isActive  bool
	checkedAt time.Time
}

// userActiveCache provides a short-TTL cache for user active-status
// lookups, avoiding a database hit on every session-authenticated request.
type userActiveCache struct {
	entries sync.Map // map[string]activeStatusEntry (keyed by user ID)
}

// check returns (isActive, cacheHit). If the cached entry is older than
// ttl, it returns cacheHit=false so the caller refreshes from the database.
func (c *userActiveCache) check(userID string, ttl time.Duration) (bool, bool) {
	if ttl == 0 {
		return false, false
	}
	val, ok := c.entries.Load(userID)
	if !ok {
		return false, false
	}
	entry := val.(activeStatusEntry)
	if time.Since(entry.checkedAt) > ttl {
		return false, false
	}
	return entry.isActive, true
}

func (c *userActiveCache) set(userID string, isActive bool) {
	c.entries.Store(userID, activeStatusEntry{isActive: isActive, checkedAt: time.Now()})
}

// Middleware represents an HTTP middleware that wraps a handler.
type Middleware func(http.Handler) http.Handler

// ApplyMiddlewares applies the provided middleware in order, where the
// first middleware in the list is the outermost handler.
func ApplyMiddlewares(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RateLimitConfig configures the token bucket rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Enabled reports whether rate limiting should be enforced.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 && c.Burst > 0
}

// DefaultRateLimitConfig reads RATE_LIMIT_RPS and RATE_LIMIT_BURST from the
// environment, falling back to 100 RPS and 200 burst.
func DefaultRateLimitConfig() RateLimitConfig {
	rps := defaultRateLimitRPS
	burst := defaultRateLimitBurst

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			burst = parsed
		}
	}

	return RateLimitConfig{RequestsPerSecond: rps, Burst: burst}
}

// RequestIDMiddleware ensures every request carries a stable request ID.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := sanitizeRequestID(r.Header.Get(requestIDHeader))
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx := WithRequestID(r.Context(), requestID)
			ctx = observability.WithRequestID(ctx, requestID)
			r = r.WithContext(ctx)
			w.Header().Set(requestIDHeader, requestID)
			next.ServeHTTP(w, r)
		})
	}
}

func sanitizeRequestID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxRequestIDLength {
		return ""
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return ""
		}
	}
	return id
}

// LoggingMiddleware records structured request logs and wires Sentry
// tracing.
func LoggingMiddleware(logger observability.Logger) Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			hub := sentry.GetHubFromContext(ctx)
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
				ctx = sentry.SetHubOnContext(ctx, hub)
				r = r.WithContext(ctx)
			}

			transaction := sentry.StartTransaction(
				ctx,
				fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				sentry.WithOpName("http.server"),
				sentry.ContinueFromRequest(r),
				sentry.WithTransactionSource(sentry.SourceURL),
			)
			defer transaction.Finish()
			r = r.WithContext(transaction.Context())
			ctx = r.Context()

			hub.Scope().SetRequest(r)
			hub.Scope().SetContext("request", map[string]any{
				"url":    r.URL.String(),
				"method": r.Method,
			})

			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			var panicRecovered any

			defer func() {
				if rec := recover(); rec != nil {
					panicRecovered = rec
					transaction.Status = sentry.SpanStatusInternalError
					hub.RecoverWithContext(ctx, rec)
					attrs := appendRequestID(ctx, []any{
						"method", r.Method,
						"path", r.URL.Path,
					})
					attrs = append(attrs, "panic", rec)
					logger.ErrorContext(ctx, "panic recovered", attrs...)
					writeJSON(recorder, http.StatusInternalServerError, apiError{Error: "internal server error"})
				}
			}()

			next.ServeHTTP(recorder, r)

			if panicRecovered != nil {
				return
			}

			transaction.Status = sentry.HTTPtoSpanStatus(recorder.status)
			duration := time.Since(start)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", duration.Milliseconds(),
			}
			attrs = appendRequestID(r.Context(), attrs)

			switch {
			case recorder.status >= 500:
				logger.ErrorContext(r.Context(), "request completed", attrs...)
			case recorder.status >= 400:
				logger.WarnContext(r.Context(), "request completed", attrs...)
			default:
				logger.InfoContext(r.Context(), "request completed", attrs...)
			}
		})
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware enforces per-client rate limiting using a token
// bucket. It adds X-RateLimit-* headers to all responses and returns 429
// with Retry-After when the limit is exceeded.
func RateLimitMiddleware(cfg RateLimitConfig, logger observability.Logger, metrics *observability.Metrics) Middleware {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}

	var (
		mu          sync.Mutex
		visitors    = make(map[string]*clientLimiter)
		lastCleanup time.Time
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			key := clientKey(r)

			mu.Lock()
			v, ok := visitors[key]
			if !ok {
				v = &clientLimiter{
					limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
					lastSeen: now,
				}
				visitors[key] = v
			} else {
				v.lastSeen = now
			}

			if lastCleanup.IsZero() || now.Sub(lastCleanup) > minimumCleanupInterval {
				for k, limiter := range visitors {
					if now.Sub(limiter.lastSeen) > rateLimiterVisitorTTL {
						delete(visitors, k)
					}
				}
				lastCleanup = now
			}
			mu.Unlock()

			w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64))

			tokens := v.limiter.Tokens()
			remaining := int(math.Floor(tokens))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			resetTime := now.Add(time.Duration(float64(time.Second) / cfg.RequestsPerSecond))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !v.limiter.AllowN(now, 1) {
				if metrics != nil {
					metrics.RecordRateLimitRejected()
				}
				attrs := appendRequestID(r.Context(), []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", http.StatusTooManyRequests,
				})
				logger.WarnContext(r.Context(), "rate limit exceeded", attrs...)
				retryAfter := int(math.Ceil(1 / cfg.RequestsPerSecond))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSON(w, http.StatusTooManyRequests, apiError{Error: "too many requests"})
				return
			}
			if metrics != nil {
				metrics.RecordRateLimitAllowed()
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SessionAuthMiddleware validates the session cookie and attaches the
// authenticated session to the request context.
//
// When required is true, requests without a valid session receive 401. An
// expired token is reported distinctly from an invalid one so clients know
// to re-authenticate rather than treat it as an error. When required is
// false, a missing, invalid, or expired cookie passes through with no
// identity attached.
func SessionAuthMiddleware(
	tokens *auth.TokenService,
	users auth.UserStore,
	cookieName string,
	required bool,
	logger observability.Logger,
	metrics *observability.Metrics,
) Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}

	activeCache := &userActiveCache{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				if required {
					logAuthFailure(logger, r, "missing session cookie")
					writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized", Detail: "missing session"})
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Verify(cookie.Value)
			if err != nil {
				expired := errors.Is(err, auth.ErrSessionTokenExpired)
				if metrics != nil {
					metrics.RecordSessionRejected(expired)
				}
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				if expired {
					logAuthFailure(logger, r, "session expired")
					writeJSON(w, http.StatusUnauthorized, apiError{Error: "session expired", Detail: "please sign in again"})
				} else {
					logAuthFailure(logger, r, "invalid session token")
					writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized", Detail: "invalid session"})
				}
				return
			}

			// The signed roles are trusted until the token expires, but
			// account deactivation must take effect before that.
			if users != nil {
				isActive, cacheHit := activeCache.check(claims.Subject, activeStatusCacheTTL)
				if !cacheHit {
					user, err := users.GetByID(ctx, claims.Subject)
					if err != nil {
						logAuthError(logger, r, "user store error", err)
						writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
						return
					}
					isActive = user != nil && user.IsActive
					activeCache.set(claims.Subject, isActive)
				}
				if !isActive {
					if !required {
						next.ServeHTTP(w, r)
						return
					}
					logAuthFailure(logger, r, "account disabled")
					writeJSON(w, http.StatusUnauthorized, apiError{Error: "account disabled"})
					return
				}
			}

			ctx = auth.ContextWithSession(ctx, auth.SessionFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoleMiddleware grants access when the session holds at least one
// of the allowed roles. The 403 response names both the required and the
// actual roles so the caller knows what is missing.
// Must be used after SessionAuthMiddleware.
func RequireRoleMiddleware(allowed []auth.Role, logger observability.Logger, metrics *observability.Metrics) Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			session, ok := auth.SessionFromContext(ctx)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized"})
				return
			}

			if session.HasAnyRole(allowed...) {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.RecordAuthzDenied()
			}
			attrs := appendRequestID(ctx, []any{
				"method", r.Method,
				"path", r.URL.Path,
				"user_id", session.UserID,
				"roles", auth.RolesToStrings(session.Roles),
				"required_roles", auth.RolesToStrings(allowed),
			})
			logger.WarnContext(ctx, "authorization denied", attrs...)
			writeJSON(w, http.StatusForbidden, apiError{
				Error: "forbidden",
				Detail: fmt.Sprintf("requires one of roles %v, have %v",
					auth.RolesToStrings(allowed), auth.RolesToStrings(session.Roles)),
			})
		})
	}
}

// RequirePermissionMiddleware grants access when any of the session's roles
// carries the permission. Permissions are evaluated against the current
// role-permission table, so a table change takes effect without reissuing
// tokens. Must be used after SessionAuthMiddleware.
func RequirePermissionMiddleware(resource, action string, logger observability.Logger, metrics *observability.Metrics) Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			session, ok := auth.SessionFromContext(ctx)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized"})
				return
			}

			if auth.AnyRoleHasPermission(session.Roles, resource, action) {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.RecordAuthzDenied()
			}
			attrs := appendRequestID(ctx, []any{
				"method", r.Method,
				"path", r.URL.Path,
				"user_id", session.UserID,
				"roles", auth.RolesToStrings(session.Roles),
				"required_resource", resource,
				"required_action", action,
			})
			logger.WarnContext(ctx, "authorization denied", attrs...)
			writeJSON(w, http.StatusForbidden, apiError{
				Error:  "forbidden",
				Detail: fmt.Sprintf("missing permission %s:%s", resource, action),
			})
		})
	}
}

// RequireAllPermissionsMiddleware grants access only when the session's
// roles together cover every listed permission.
// Must be used after SessionAuthMiddleware.
func RequireAllPermissionsMiddleware(permissions []auth.Permission, logger observability.Logger, metrics *observability.Metrics) Middleware {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			session, ok := auth.SessionFromContext(ctx)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized"})
				return
			}

			var missing []string
			for _, perm := range permissions {
				if !auth.AnyRoleHasPermission(session.Roles, perm.Resource, perm.Action) {
					missing = append(missing, perm.String())
				}
			}
			if len(missing) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.RecordAuthzDenied()
			}
			attrs := appendRequestID(ctx, []any{
				"method", r.Method,
				"path", r.URL.Path,
				"user_id", session.UserID,
				"roles", auth.RolesToStrings(session.Roles),
				"missing_permissions", missing,
			})
			logger.WarnContext(ctx, "authorization denied", attrs...)
			writeJSON(w, http.StatusForbidden, apiError{
				Error:  "forbidden",
				Detail: fmt.Sprintf("missing permissions: %s", strings.Join(missing, ", ")),
			})
		})
	}
}

func logAuthFailure(logger observability.Logger, r *http.Request, reason string) {
	attrs := appendRequestID(r.Context(), []any{
		"method", r.Method,
		"path", r.URL.Path,
		"reason", reason,
	})
	logger.WarnContext(r.Context(), "authentication failed", attrs...)
}

func logAuthError(logger observability.Logger, r *http.Request, msg string, err error) {
	attrs := appendRequestID(r.Context(), []any{
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	})
	logger.ErrorContext(r.Context(), msg, attrs...)
}
