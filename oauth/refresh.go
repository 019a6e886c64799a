// Package oauth keeps the bot's chat token fresh. Tokens live in the
// oauth_tokens table; the refresher wakes on a jittered interval and refreshes
// whenever the remaining lifetime drops inside the window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fireflydesigns/meowbot/db"
)

// RefreshFunc performs provider-specific refresh and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Refresher periodically renews one provider's token row.
type Refresher struct {
	DB       *sql.DB
	Provider string
	Interval time.Duration // wake-up cadence, default 5m
	Window   time.Duration // refresh when lifetime <= window, default 15m
	Fn       RefreshFunc
}

// Run blocks until ctx is done, refreshing the token as needed. Refresh
// failures are logged and retried on the next wake-up.
func (r *Refresher) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	window := r.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth"), slog.String("provider", r.Provider))

	// Jitter spreads wake-ups across instances sharing a database.
	initial := time.Duration(rand.Int63n(int64(interval / 2)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initial):
	}

	for {
		jitterRange := int64(interval / 5)
		jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
		sleep := interval + jitter
		if sleep < interval/2 {
			sleep = interval / 2
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		r.refreshOnce(ctx, window, log)
	}
}

func (r *Refresher) refreshOnce(ctx context.Context, window time.Duration, log *slog.Logger) {
	access, refresh, expiry, scope, err := db.GetOAuthToken(ctx, r.DB, r.Provider)
	if err != nil {
		log.Warn("token read failed", slog.Any("err", err))
		return
	}
	if access == "" || refresh == "" {
		return
	}
	if time.Until(expiry) > window {
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAccess, newRefresh, newExpiry, newScope, err := r.Fn(refreshCtx, refresh)
	cancel()
	if err != nil {
		log.Warn("token refresh failed", slog.Any("err", err))
		return
	}
	if newRefresh == "" {
		newRefresh = refresh
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, r.DB, r.Provider, newAccess, newRefresh, newExpiry, strings.TrimSpace(newScope)); err != nil {
		log.Warn("token persist failed", slog.Any("err", err))
		return
	}
	log.Info("token refreshed", slog.Time("expires_at", newExpiry))
}

// TwitchRefreshFunc builds a RefreshFunc backed by the refresh-token grant.
// tokenURL is overridable for tests; empty means the Twitch default.
func TwitchRefreshFunc(clientID, clientSecret, tokenURL string) RefreshFunc {
	if tokenURL == "" {
		tokenURL = "https://id.twitch.tv/oauth2/token"
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		scope, _ := tok.Extra("scope").(string)
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, scope, nil
	}
}
