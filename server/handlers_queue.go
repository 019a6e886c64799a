package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fireflydesigns/meowbot/telemetry"
)

type pendingChannel struct {
	Channel     string `json:"channel"`
	DisplayName string `json:"display_name"`
	Timestamp   string `json:"timestamp"`
}

// HandlePendingChannels hands the queued channels to the polling bot. Entries
// stay redeliverable for the retention window, so a bot crash between poll
// and join only delays the join until the next cycle.
func (h *Handlers) HandlePendingChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := h.queue.Drain()
	channels := make([]pendingChannel, 0, len(entries))
	for _, e := range entries {
		channels = append(channels, pendingChannel{
			Channel:     e.Channel,
			DisplayName: e.DisplayName,
			Timestamp:   e.EnqueuedAt.UTC().Format(time.RFC3339),
		})
	}
	telemetry.SetQueueDepth(h.queue.Snapshot().Pending)

	if len(channels) > 0 {
		telemetry.LoggerWithCorr(r.Context()).Info("delivered pending channels",
			slog.Int("count", len(channels)), slog.String("component", "queue"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

// HandleQueueStatus reports queue diagnostics without consuming anything.
func (h *Handlers) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.queue.Snapshot())
}

type addChannelRequest struct {
	Channel     string `json:"channel"`
	DisplayName string `json:"display_name"`
}

// HandleAddChannel enqueues a channel manually, bypassing OAuth. When Twitch
// credentials are configured the login is verified against Helix first so
// typos don't leave the bot joining empty rooms.
func (h *Handlers) HandleAddChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "queue"))

	var req addChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" {
		writeJSONError(w, http.StatusBadRequest, "Channel name is required", "")
		return
	}

	display := req.DisplayName
	if display == "" {
		display = req.Channel
	}
	if h.cfg.TwitchClientID != "" && h.cfg.TwitchClientSecret != "" {
		user, err := h.twitch.GetUserByLogin(ctx, req.Channel)
		if err != nil {
			log.Warn("channel validation failed", slog.String("channel", req.Channel), slog.Any("err", err))
			writeJSONError(w, http.StatusNotFound, "Channel not found on Twitch", err.Error())
			return
		}
		display = user.DisplayName
	}

	h.queue.Enqueue(req.Channel, display)
	telemetry.SetQueueDepth(h.queue.Snapshot().Pending)
	log.Info("channel enqueued manually", slog.String("channel", req.Channel))

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Channel queued for join.",
		"channel": display,
	})
}
