package handler

import (
	"context"
	"net/http"
	"os"
	"sort"
	"time"
)

const version = "0.1.0"

// Pinger: зависимость, которую проверяет /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc позволяет передать проверку функцией (например, mongo.Client.Ping с read preference).
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	Version     string           `json:"version"`
	Instance    string           `json:"instance,omitempty"`
	Checks      map[string]Check `json:"checks"`
	Connections int              `json:"connections"`
	Timestamp   string           `json:"timestamp"`
}

type namedPinger struct {
	name string
	p    Pinger
}

type HealthHandler struct {
	checks  []namedPinger
	clients func() int
}

// NewHealthHandler: clients возвращает число открытых WebSocket-соединений (может быть nil).
func NewHealthHandler(clients func() int) *HealthHandler {
	return &HealthHandler{clients: clients}
}

// Add регистрирует проверку; nil пропускается (зависимость не настроена).
func (h *HealthHandler) Add(name string, p Pinger) *HealthHandler {
	if p != nil {
		h.checks = append(h.checks, namedPinger{name: name, p: p})
		sort.Slice(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
	}
	return h
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		start := time.Now()
		if err := c.p.Ping(ctx); err != nil {
			checks[c.name] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
			continue
		}
		checks[c.name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Instance:  os.Getenv("INSTANCE_ID"),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.clients != nil {
		resp.Connections = h.clients()
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
