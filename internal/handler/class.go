package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/internal/service"
)

type ClassHandler struct {
	classes *service.ClassService
}

func NewClassHandler(classes *service.ClassService) *ClassHandler {
	return &ClassHandler{classes: classes}
}

type createClassRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *ClassHandler) ListByUniversity(w http.ResponseWriter, r *http.Request) {
	list, err := h.classes.ListByUniversity(r.Context(), chi.URLParam(r, "universityId"))
	if err != nil {
		writeServiceError(w, r, "class.ListByUniversity", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get отдаёт класс вместе с его учебными группами.
func (h *ClassHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	c, err := h.classes.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "class.Get", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ClassHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req createClassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.classes.Create(r.Context(), p, service.CreateClassInput{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, "class.Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ClassHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.classes.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "class.Delete", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Class deleted successfully"})
}
