package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/studyhub/internal/logger"
)

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// bearerToken достаёт токен из Authorization: Bearer или из ?token= (браузерный WebSocket не умеет заголовки).
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// PrincipalAuth проверяет токен принципала и кладёт model.Principal в контекст. 401 при ошибке.
func PrincipalAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearerToken(r)
			if tok == "" {
				writeJSONError(w, http.StatusUnauthorized, "No token, authorization denied")
				return
			}
			p, err := ParsePrincipal(secret, tok)
			if err != nil {
				logger.Errorf("auth: token %s rejected: %v", MaskToken(tok), err)
				writeJSONError(w, http.StatusUnauthorized, "Token is not valid")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
