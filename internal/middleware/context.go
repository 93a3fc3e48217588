package middleware

import (
	"context"

	"github.com/studyhub/internal/model"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// WithPrincipal кладёт принципала в контекст (используется PrincipalAuth и тестами обработчиков).
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal возвращает принципала из контекста; ok=false, если запрос не аутентифицирован.
func GetPrincipal(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(model.Principal)
	return p, ok && p.UserID != ""
}

// GetUserID возвращает id пользователя из контекста или пустую строку.
func GetUserID(ctx context.Context) string {
	p, _ := GetPrincipal(ctx)
	return p.UserID
}
