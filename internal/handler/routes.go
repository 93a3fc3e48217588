package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyhub/internal/service"
)

// MountAPI регистрирует маршруты /api. auth проверяет токен принципала,
// limit: лимит запросов (вызывается после auth, чтобы считать и по пользователю).
func MountAPI(r chi.Router, svc *service.Services, auth, limit func(http.Handler) http.Handler) {
	universities := NewUniversityHandler(svc.Universities)
	classes := NewClassHandler(svc.Classes)
	groups := NewStudyGroupHandler(svc.StudyGroups)
	chat := NewChatHandler(svc.Chat)

	r.Route("/api", func(r chi.Router) {
		// Список университетов открыт: нужен до входа.
		r.With(limit).Get("/universities", universities.List)

		r.Group(func(r chi.Router) {
			r.Use(auth, limit)

			r.Get("/auth/me", universities.Me)
			r.Get("/universities/{id}", universities.Get)

			r.Get("/classes/university/{universityId}", classes.ListByUniversity)
			r.Get("/classes/{id}", classes.Get)
			r.Post("/classes", classes.Create)
			r.Delete("/classes/{id}", classes.Delete)

			r.Get("/study-groups/class/{classId}", groups.ListByClass)
			r.Get("/study-groups/my-joined", groups.ListJoined)
			r.Get("/study-groups/my-created", groups.ListCreated)
			r.Get("/study-groups/{id}", groups.Get)
			r.Post("/study-groups", groups.Create)
			r.Post("/study-groups/{id}/join", groups.Join)
			r.Post("/study-groups/{id}/leave", groups.Leave)
			r.Put("/study-groups/{id}", groups.Update)
			r.Delete("/study-groups/{id}", groups.Delete)

			r.Get("/chat/class/{id}", chat.ClassChat)
			r.Post("/chat/class/{id}", chat.PostToClass)
			r.Post("/chat/class/{id}/leave", chat.LeaveClassChat)
			r.Post("/chat/class/{id}/rejoin", chat.RejoinClassChat)
			r.Get("/chat/study-group/{id}", chat.StudyGroupChat)
			r.Post("/chat/study-group/{id}", chat.PostToStudyGroup)
		})
	})
}
