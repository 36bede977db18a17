// Package middleware содержит HTTP middleware сервиса сверки платежей.
package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity — учётные данные шлюза, переданные в уведомлении.
type Identity struct {
	CIN      string
	Username string
}

// Validator проверяет, что уведомление пришло для настроенной учётной записи.
type Validator interface {
	Validate(cin, username string) error
}

// IdentityMiddleware отклоняет уведомления с чужими ep_cin или ep_user.
type IdentityMiddleware struct {
	validator Validator
	logger    *zap.Logger
}

// NewIdentityMiddleware создаёт новый экземпляр IdentityMiddleware.
func NewIdentityMiddleware(validator Validator, logger *zap.Logger) *IdentityMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// Middleware проверяет параметры ep_cin и ep_user и добавляет Identity в контекст запроса.
func (m *IdentityMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		identity := Identity{
			CIN:      query.Get("ep_cin"),
			Username: query.Get("ep_user"),
		}

		if err := m.validator.Validate(identity.CIN, identity.Username); err != nil {
			m.logger.Warn("rejected notification",
				zap.String("cin", identity.CIN),
				zap.String("user", identity.Username),
				zap.Error(err),
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext извлекает Identity из контекста запроса.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
