// Package chat runs the Twitch IRC bot: it counts meows in every joined
// channel, persists them, and answers chat commands.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/fireflydesigns/meowbot/config"
	"github.com/fireflydesigns/meowbot/counter"
	"github.com/fireflydesigns/meowbot/telemetry"
)

// replyCooldown bounds acknowledgement replies per channel so a meow spam
// wave doesn't turn the bot into the spam.
const replyCooldown = 5 * time.Second

// CounterStore is the persistence surface the bot needs.
type CounterStore interface {
	RecordOccurrence(ctx context.Context, userID, channel string, amount int) (userTotal, channelTotal int64, err error)
	UserTotal(ctx context.Context, userID, channel string) (int64, error)
	ChannelTotal(ctx context.Context, channel string) (int64, error)
	UserGlobal(ctx context.Context, userID string) (total int64, channels int, err error)
	ChannelLeaderboard(ctx context.Context, channel string, limit int) ([]counter.LeaderboardEntry, error)
	GlobalLeaderboard(ctx context.Context, limit int) ([]counter.LeaderboardEntry, error)
	HasGlobalAccess(ctx context.Context, channel string) (bool, error)
	SetGlobalAccess(ctx context.Context, channel string) error
	SetApproved(ctx context.Context, channel string) error
}

// Bot wraps the IRC client. Safe for the single connection goroutine plus the
// reconciler calling Join concurrently.
type Bot struct {
	client     *twitch.Client
	store      CounterStore
	username   string
	websiteURL string

	mu          sync.Mutex
	lastReply   map[string]time.Time
	joinedCount int
	connectedAt time.Time
	now         func() time.Time
	say         func(channel, text string)
}

// NewBot builds the bot from config. ValidateChatReady must have passed.
func NewBot(cfg *config.Config, store CounterStore) *Bot {
	token := cfg.TwitchOAuthToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	client := twitch.NewClient(cfg.TwitchBotUsername, token)
	b := &Bot{
		client:     client,
		store:      store,
		username:   strings.ToLower(cfg.TwitchBotUsername),
		websiteURL: cfg.WebsiteURL,
		lastReply:  make(map[string]time.Time),
		now:        time.Now,
	}
	b.say = client.Say

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		b.handleMessage(context.Background(), inboundMessage{
			Channel:     strings.ToLower(msg.Channel),
			UserName:    strings.ToLower(msg.User.Name),
			DisplayName: msg.User.DisplayName,
			Text:        msg.Message,
		})
	})
	client.OnConnect(func() {
		b.mu.Lock()
		b.connectedAt = b.now()
		b.mu.Unlock()
		slog.Info("connected to twitch chat", slog.String("component", "chat"), slog.String("username", b.username))
	})
	return b
}

// Join subscribes the bot to a channel. Satisfies the reconciler's Joiner.
func (b *Bot) Join(channel string) error {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return errEmptyChannel
	}
	b.client.Join(channel)
	b.mu.Lock()
	b.joinedCount++
	b.mu.Unlock()
	return nil
}

// JoinedCount reports how many channels this process has joined.
func (b *Bot) JoinedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joinedCount
}

// ConnectedSince returns the time of the last successful IRC connect, zero if
// never connected.
func (b *Bot) ConnectedSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectedAt
}

// Run connects to Twitch chat and blocks until ctx is done or the connection
// fails terminally.
func (b *Bot) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := b.client.Disconnect(); err != nil {
			slog.Warn("twitch chat disconnect error", slog.Any("err", err))
		}
	}()
	err := b.client.Connect()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type inboundMessage struct {
	Channel     string
	UserName    string
	DisplayName string
	Text        string
}

// handleMessage processes one chat line. Errors are logged, never propagated:
// a storage hiccup must not take the bot down.
func (b *Bot) handleMessage(ctx context.Context, m inboundMessage) {
	telemetry.MessagesProcessed.Inc()
	if m.UserName == b.username {
		return
	}
	log := slog.Default().With(slog.String("component", "chat"), slog.String("channel", m.Channel))

	// Count before command dispatch: "!meow" itself contains a meow, and a
	// command message carrying meows still increments the counters.
	n := counter.CountOccurrences(m.Text)
	var userTotal, channelTotal int64
	if n > 0 {
		var err error
		telemetry.TimeFunc(telemetry.RecordDuration, func() {
			userTotal, channelTotal, err = b.store.RecordOccurrence(ctx, m.UserName, m.Channel, n)
		})
		if err != nil {
			log.Error("record occurrence failed", slog.Any("err", err), slog.String("user", m.UserName))
			n = 0
		} else {
			telemetry.MeowsRecorded.Add(float64(n))
		}
	}

	if strings.HasPrefix(m.Text, "!") {
		if reply := b.handleCommand(ctx, m); reply != "" {
			b.say(m.Channel, reply)
			telemetry.RepliesSent.Inc()
		}
		return
	}
	if n == 0 {
		return
	}

	if !b.allowReply(m.Channel) {
		telemetry.RepliesSuppressed.Inc()
		return
	}
	b.say(m.Channel, meowReply(m.DisplayName, n, userTotal, channelTotal))
	telemetry.RepliesSent.Inc()
}

// allowReply enforces the per-channel cooldown.
func (b *Bot) allowReply(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if last, ok := b.lastReply[channel]; ok && now.Sub(last) < replyCooldown {
		return false
	}
	b.lastReply[channel] = now
	return true
}
