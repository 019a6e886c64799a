package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fireflydesigns/meowbot/telemetry"
)

type authorizeRequest struct {
	Code string `json:"code"`
}

// HandleAuthorize completes the Twitch OAuth flow: it exchanges the
// authorization code, identifies the granting user, and enqueues their
// channel for the bot to join. The access token is discarded after the
// identity lookup; the coordinator never acts on the user's behalf.
func (h *Handlers) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "authorize"))

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSONError(w, http.StatusBadRequest, "Authorization code is required", "")
		return
	}

	token, err := h.twitch.ExchangeAuthCode(ctx, req.Code)
	if err != nil {
		log.Error("code exchange failed", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to exchange authorization code", err.Error())
		return
	}

	user, err := h.twitch.GetAuthorizedUser(ctx, token.AccessToken)
	if err != nil {
		log.Error("user lookup failed", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to fetch user info", err.Error())
		return
	}

	h.queue.Enqueue(user.Login, user.DisplayName)
	telemetry.AuthorizationsDone.Inc()
	telemetry.SetQueueDepth(h.queue.Snapshot().Pending)
	log.Info("channel authorized",
		slog.String("channel", user.Login),
		slog.String("user_id", user.ID))

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Bot authorized! It will join your channel within a minute.",
		"channel": user.DisplayName,
		"user_id": user.ID,
	})
}
