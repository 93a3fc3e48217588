package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/middleware"
	"github.com/studyhub/internal/model"
)

const msgServerError = "Server error"

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// messageResponse: подтверждение операции без тела сущности.
type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	writeJSON(w, status, errorResponse{Message: msg, Code: string(code)})
}

// writeServiceError отображает отказ бизнес-правила в статус и код.
// Прочие ошибки логируются, клиент получает непрозрачный 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if ae, ok := apperr.As(err); ok {
		writeError(w, ae.Status(), ae.Code, ae.Message)
		return
	}
	logger.Errorf("%s %s: %s: %v", r.Method, r.URL.Path, op, err)
	writeJSON(w, http.StatusInternalServerError, messageResponse{Message: msgServerError})
}

// decodeJSON читает тело запроса. Пустое тело допустимо: поля остаются нулевыми.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, apperr.CodeValidation, "Request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, apperr.CodeValidation, "Invalid request body")
	return false
}

// requirePrincipal достаёт принципала, положенного PrincipalAuth.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok || p.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "No token, authorization denied"})
		return model.Principal{}, false
	}
	return p, true
}
