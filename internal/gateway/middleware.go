package gateway

import (
	"context"
	"net/http"

	"github.com/gabrielauvo/autonomo/internal/audit"
	"github.com/gabrielauvo/autonomo/internal/infra/auth"
	"github.com/gabrielauvo/autonomo/internal/ratelimit"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKeyTraceID struct{}

// TraceIDFromContext — сквозной идентификатор запроса для аудита
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}

// Tracing принимает X-Trace-ID от клиента или генерирует свой,
// кладет его в контекст и возвращает в заголовке ответа.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		w.Header().Set("X-Trace-ID", traceID)
		ctx := context.WithValue(r.Context(), ctxKeyTraceID{}, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SuspendGuard отсекает приостановленные аккаунты до входа в ядро.
// Ставится после auth middleware: user_id уже в контексте.
func SuspendGuard(suspend *SuspendManager, auditor audit.Auditor, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			if userID != "" && suspend.IsSuspended(userID) {
				auditor.Log(audit.Entry{
					TraceID:  TraceIDFromContext(r.Context()),
					UserID:   userID,
					Category: audit.CategorySecurityBlock,
					Action:   "account_suspended",
					IP:       r.RemoteAddr,
					Success:  false,
				})
				http.Error(w, "account suspended", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateGuard — лимитер запросов per-user. Превышение — 429 плюс запись в аудит,
// чтобы RATE_LIMIT события были видны в Security-выборке.
func RateGuard(limiter *ratelimit.Limiter, auditor audit.Auditor, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			if userID != "" {
				if err := limiter.Allow(r.Context(), userID); err != nil {
					auditor.Log(audit.Entry{
						TraceID:  TraceIDFromContext(r.Context()),
						UserID:   userID,
						Category: audit.CategoryRateLimit,
						Action:   "rate_limited",
						IP:       r.RemoteAddr,
						Success:  false,
					})
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
