package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/ws"
)

type WSHandler struct {
	hub *ws.Hub
	// origins пуст: разрешён любой Origin.
	origins map[string]struct{}
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins задаётся списком через запятую, как в CORS; "*" отключает проверку.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			h.origins = nil
			break
		}
		if o != "" {
			if h.origins == nil {
				h.origins = make(map[string]struct{})
			}
			h.origins[o] = struct{}{}
		}
	}
	return h
}

// originAllowed: запросы без Origin (не из браузера) пропускаются.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if len(h.origins) == 0 || origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeWS поднимает соединение событийной шины. Принципал уже проверен PrincipalAuth;
// подписки на комнаты клиент присылает командами join/leave.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if !h.originAllowed(r) {
		writeJSON(w, http.StatusForbidden, messageResponse{Message: "Origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	// Регистрация до запуска насосов: первая команда join не обгонит Register.
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, p)
	h.hub.Register(client)
	client.Start(ctx, cancel)
}
