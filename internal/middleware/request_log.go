package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/studyhub/internal/logger"
)

// RequestLog пишет method, путь, статус и время выполнения. Медленные запросы (>= 100ms) и 5xx: всегда,
// остальные только при LOG_LEVEL=debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if uid := GetUserID(r.Context()); uid != "" {
			fields = append(fields, zap.String("user", uid))
		}
		switch {
		case rw.status >= http.StatusInternalServerError:
			logger.L().Error("http request", fields...)
		case elapsed >= 100*time.Millisecond:
			logger.L().Info("http request", fields...)
		default:
			logger.L().Debug("http request", fields...)
		}
	})
}
