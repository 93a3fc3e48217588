package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/internal/service"
)

// UniversityHandler: справочник университетов; список доступен без токена.
type UniversityHandler struct {
	universities *service.UniversityService
}

func NewUniversityHandler(universities *service.UniversityService) *UniversityHandler {
	return &UniversityHandler{universities: universities}
}

func (h *UniversityHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.universities.List(r.Context())
	if err != nil {
		writeServiceError(w, r, "university.List", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *UniversityHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.universities.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "university.Get", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Me отдаёт текущего пользователя: {"user": {id, name, university}}.
func (h *UniversityHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	prof, err := h.universities.Profile(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, "university.Me", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": prof})
}
