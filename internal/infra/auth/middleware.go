package auth

import (
	"context"
	"net/http"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализует BaseValidator
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Типизированные ключи контекста: защищают от коллизий со string-ключами
// чужих пакетов.
type ctxKeyUserID struct{}
type ctxKeyScopes struct{}

// UserIDFromContext достает ID аутентифицированного пользователя
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID{}).(string); ok {
		return v
	}
	return ""
}

// ScopesFromContext достает права токена (nil-безопасно)
func ScopesFromContext(ctx context.Context) map[string]bool {
	if v, ok := ctx.Value(ctxKeyScopes{}).(map[string]bool); ok {
		return v
	}
	return nil
}

// ContextWithIdentity — для тестов и внутренних вызовов
func ContextWithIdentity(ctx context.Context, userID string, scopes map[string]bool) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID{}, userID)
	return context.WithValue(ctx, ctxKeyScopes{}, scopes)
}

// NewMiddleware закрывает периметр: без валидного RS256 токена дальше не пройти
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithIdentity(r.Context(), claims.UserID, claims.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
