package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type postMessageRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Chat *model.ChatView `json:"chat"`
}

type postedResponse struct {
	Message *model.ChatMessage `json:"message"`
}

func (h *ChatHandler) ClassChat(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	view, err := h.chat.ClassChat(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "chat.ClassChat", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Chat: view})
}

func (h *ChatHandler) StudyGroupChat(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	view, err := h.chat.StudyGroupChat(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, "chat.StudyGroupChat", err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Chat: view})
}

func (h *ChatHandler) PostToClass(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req postMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chat.PostToClass(r.Context(), p, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeServiceError(w, r, "chat.PostToClass", err)
		return
	}
	writeJSON(w, http.StatusOK, postedResponse{Message: msg})
}

func (h *ChatHandler) PostToStudyGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req postMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chat.PostToStudyGroup(r.Context(), p, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeServiceError(w, r, "chat.PostToStudyGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, postedResponse{Message: msg})
}

// LeaveClassChat и RejoinClassChat идемпотентны: повтор возвращает тот же ответ.
func (h *ChatHandler) LeaveClassChat(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.chat.LeaveClassChat(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "chat.LeaveClassChat", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Left class chat successfully"})
}

func (h *ChatHandler) RejoinClassChat(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.chat.RejoinClassChat(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, "chat.RejoinClassChat", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Rejoined class chat successfully"})
}
