package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const serviceName = "ordertrack"

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

type statsResponse struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   a.version,
		Uptime:    time.Since(a.startedAt).Truncate(time.Second).String(),
	})
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, conns := a.stateManager.Stats()
	a.writeJSON(w, statsResponse{Rooms: rooms, Connections: conns})
}

func (a *App) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to write response", slog.Any("error", err))
	}
}
