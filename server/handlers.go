// Package server exposes the HTTP API handlers.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/fireflydesigns/meowbot/config"
	"github.com/fireflydesigns/meowbot/queue"
	"github.com/fireflydesigns/meowbot/twitchapi"
)

// Handlers holds dependencies for all HTTP handlers. The coordinator keeps
// no database connection; authorized channels live only in the in-memory
// queue until the bot collects them.
type Handlers struct {
	queue  *queue.JoinQueue
	twitch *twitchapi.Client
	cfg    *config.Config
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(q *queue.JoinQueue, tw *twitchapi.Client, cfg *config.Config) *Handlers {
	return &Handlers{queue: q, twitch: tw, cfg: cfg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string, details string) {
	body := map[string]any{"success": false, "error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
