// Package reconcile keeps the bot's joined channels converged with the set of
// authorized channels: persisted flags at startup, the coordinator's pending
// queue while running, and a drop-in join file as a manual fallback.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fireflydesigns/meowbot/telemetry"
)

// Joiner is the subset of the chat client the reconciler needs.
type Joiner interface {
	Join(channel string) error
}

// ChannelStore persists authorization flags for joined channels.
type ChannelStore interface {
	LoadAuthorizedChannels(ctx context.Context) (map[string]struct{}, error)
	SetApproved(ctx context.Context, channel string) error
	SetGlobalAccess(ctx context.Context, channel string) error
}

// Reconciler polls the coordinator for newly authorized channels and joins
// them. Joins are idempotent at the IRC level, so re-delivered entries from
// the coordinator's retention window are harmless; the processed set just
// avoids redundant writes.
type Reconciler struct {
	joiner         Joiner
	store          ChannelStore
	coordinatorURL string
	pollInterval   time.Duration
	pollTimeout    time.Duration
	joinDelay      time.Duration
	joinFilePath   string
	httpClient     *http.Client

	processed map[string]struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithJoinDelay overrides the pause between serial joins (default 1s, which
// stays under Twitch's JOIN rate limit for unverified bots).
func WithJoinDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.joinDelay = d }
}

// WithJoinFile enables the drop-in join file producer.
func WithJoinFile(path string) Option {
	return func(r *Reconciler) { r.joinFilePath = path }
}

// WithHTTPClient overrides the poll client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reconciler) { r.httpClient = c }
}

// New builds a Reconciler. coordinatorURL may be empty, in which case Run only
// services the join file.
func New(joiner Joiner, store ChannelStore, coordinatorURL string, pollInterval, pollTimeout time.Duration, opts ...Option) *Reconciler {
	r := &Reconciler{
		joiner:         joiner,
		store:          store,
		coordinatorURL: strings.TrimRight(coordinatorURL, "/"),
		pollInterval:   pollInterval,
		pollTimeout:    pollTimeout,
		joinDelay:      time.Second,
		httpClient:     &http.Client{},
		processed:      make(map[string]struct{}),
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 30 * time.Second
	}
	if r.pollTimeout <= 0 {
		r.pollTimeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RejoinPersisted joins every channel the store knows about. Called once at
// startup so a bot restart does not orphan authorized channels. Joins run
// serially with a delay; individual failures are logged and skipped.
func (r *Reconciler) RejoinPersisted(ctx context.Context) error {
	channels, err := r.store.LoadAuthorizedChannels(ctx)
	if err != nil {
		return fmt.Errorf("load authorized channels: %w", err)
	}

	log := slog.Default().With(slog.String("component", "reconcile"))
	log.Info("rejoining persisted channels", slog.Int("count", len(channels)))

	joined := 0
	for ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.JoinsAttempted.Inc()
		if err := r.joiner.Join(ch); err != nil {
			telemetry.JoinsFailed.Inc()
			log.Warn("rejoin failed", slog.String("channel", ch), slog.Any("err", err))
			continue
		}
		r.processed[ch] = struct{}{}
		joined++
		select {
		case <-time.After(r.joinDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	telemetry.SetJoinedChannels(joined)
	return nil
}

// Run polls the coordinator on the configured interval until ctx is done.
// The first poll happens immediately so channels authorized before startup
// are picked up without waiting out an interval. Poll failures are logged
// and retried next tick; the loop never aborts.
func (r *Reconciler) Run(ctx context.Context) error {
	log := slog.Default().With(slog.String("component", "reconcile"))
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.tick(ctx, log)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one poll plus one join-file sweep.
func (r *Reconciler) tick(ctx context.Context, log *slog.Logger) {
	if r.coordinatorURL != "" {
		telemetry.CoordinatorPolls.Inc()
		telemetry.TimeFunc(telemetry.PollDuration, func() {
			if err := r.pollOnce(ctx); err != nil {
				telemetry.CoordinatorErrors.Inc()
				log.Warn("coordinator poll failed", slog.Any("err", err))
			}
		})
	}
	if r.joinFilePath != "" {
		if err := r.processJoinFile(ctx); err != nil {
			log.Warn("join file processing failed", slog.Any("err", err))
		}
	}
}

type pendingChannel struct {
	Channel     string `json:"channel"`
	DisplayName string `json:"display_name"`
}

// pollOnce fetches the pending channels and joins any not yet processed.
func (r *Reconciler) pollOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.coordinatorURL+"/pending-channels", nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator returned %s", resp.Status)
	}

	var body struct {
		Channels []pendingChannel `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode pending channels: %w", err)
	}

	for _, pc := range body.Channels {
		r.joinChannel(ctx, strings.ToLower(strings.TrimSpace(pc.Channel)), pc.DisplayName)
	}
	return nil
}

// joinChannel joins and persists authorization for one channel. Already
// processed channels are skipped, which makes the coordinator's at-least-once
// delivery and the join file's duplicates both no-ops.
func (r *Reconciler) joinChannel(ctx context.Context, channel, displayName string) {
	if channel == "" {
		return
	}
	if _, ok := r.processed[channel]; ok {
		return
	}
	log := slog.Default().With(slog.String("component", "reconcile"), slog.String("channel", channel))

	telemetry.JoinsAttempted.Inc()
	if err := r.joiner.Join(channel); err != nil {
		telemetry.JoinsFailed.Inc()
		log.Warn("join failed, will retry on redelivery", slog.Any("err", err))
		return
	}

	// Persist flags so a restart rejoins without the coordinator.
	if err := r.store.SetApproved(ctx, channel); err != nil {
		log.Error("persist approval failed", slog.Any("err", err))
	}
	if err := r.store.SetGlobalAccess(ctx, channel); err != nil {
		log.Error("persist global access failed", slog.Any("err", err))
	}

	r.processed[channel] = struct{}{}
	telemetry.SetJoinedChannels(len(r.processed))
	log.Info("joined new channel", slog.String("display_name", displayName))
}

// processJoinFile reads the drop-in file, joins each listed channel, and
// truncates the file. Lines are one channel name each; blanks and #-comments
// are ignored.
func (r *Reconciler) processJoinFile(ctx context.Context) error {
	data, err := os.ReadFile(r.joinFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.joinChannel(ctx, line, line)
	}

	// Truncate after processing so entries are consumed exactly once.
	return os.WriteFile(r.joinFilePath, nil, 0o644)
}
