package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	ctxKeyUser ctxKey = iota
	ctxKeyLogger
)

// UserStore resolves the identity header to a user.
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), ctxKeyLogger, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(ctx context.Context, fallback observability.Logger) observability.Logger {
	if entry, ok := ctx.Value(ctxKeyLogger).(observability.Logger); ok {
		return entry
	}
	return fallback
}

// IdentityMiddleware resolves X-User-Email to a stored user and rejects
// requests without one. Authentication proper happens at the gateway; this
// service only needs the identity.
func IdentityMiddleware(users UserStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := r.Header.Get("X-User-Email")
			if email == "" {
				http.Error(w, "missing X-User-Email", http.StatusUnauthorized)
				return
			}
			user, err := users.UserByEmail(r.Context(), email)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, "unknown user", http.StatusUnauthorized)
					return
				}
				http.Error(w, "identity lookup failed", http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestUser(ctx context.Context) *domain.User {
	user, _ := ctx.Value(ctxKeyUser).(*domain.User)
	return user
}

func RateLimitMiddleware(rl *ratelimit.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-User-Email")
			if key == "" {
				key = r.RemoteAddr
			}
			if !rl.Allow(r.Context(), "user:"+key, 60, time.Minute) || !rl.Allow(r.Context(), "ip:"+r.RemoteAddr, 300, time.Minute) {
				observability.RateLimitExceeded.Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}
