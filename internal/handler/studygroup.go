package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/internal/membership"
	"github.com/studyhub/internal/service"
)

type StudyGroupHandler struct {
	groups *service.StudyGroupService
}

func NewStudyGroupHandler(groups *service.StudyGroupService) *StudyGroupHandler {
	return &StudyGroupHandler{groups: groups}
}

type createStudyGroupRequest struct {
	Name        string `json:"name"`
	ClassID     string `json:"classId"`
	Description string `json:"description"`
	MaxMembers  *int   `json:"maxMembers"`
	IsPrivate   bool   `json:"isPrivate"`
}

type joinStudyGroupRequest struct {
	InviteCode string `json:"inviteCode"`
}

type updateStudyGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MaxMembers  *int    `json:"maxMembers"`
}

func (h *StudyGroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req createStudyGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.groups.Create(r.Context(), p, membership.CreateInput{
		Name:        req.Name,
		ClassID:     req.ClassID,
		Description: req.Description,
		MaxMembers:  req.MaxMembers,
		IsPrivate:   req.IsPrivate,
	})
	if err != nil {
		writeServiceError(w, r, "studyGroup.Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *StudyGroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	g, err := h.groups.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "studyGroup.Get", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *StudyGroupHandler) ListByClass(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	list, err := h.groups.ListByClass(r.Context(), p, chi.URLParam(r, "classId"))
	if err != nil {
		writeServiceError(w, r, "studyGroup.ListByClass", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StudyGroupHandler) ListJoined(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	list, err := h.groups.ListJoined(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, "studyGroup.ListJoined", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StudyGroupHandler) ListCreated(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	list, err := h.groups.ListCreated(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, "studyGroup.ListCreated", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Join: тело может отсутствовать (открытая группа).
func (h *StudyGroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req joinStudyGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.groups.Join(r.Context(), p, chi.URLParam(r, "id"), req.InviteCode)
	if err != nil {
		writeServiceError(w, r, "studyGroup.Join", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *StudyGroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	g, err := h.groups.Leave(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "studyGroup.Leave", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Left study group successfully",
		"studyGroup": g,
	})
}

func (h *StudyGroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req updateStudyGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.groups.Update(r.Context(), p, chi.URLParam(r, "id"), membership.EditInput{
		Name:        req.Name,
		Description: req.Description,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		writeServiceError(w, r, "studyGroup.Update", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *StudyGroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.groups.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "studyGroup.Delete", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Study group deleted successfully"})
}
