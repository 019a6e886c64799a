package server

import (
	"net/http"
)

// HandleHealth responds to liveness probes. The coordinator holds no external
// connections to check; if it can answer, it is healthy.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleRoot identifies the service for anyone poking at the base URL.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "meowbot-coordinator",
		"status":  "running",
		"website": h.cfg.WebsiteURL,
	})
}
