package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fireflydesigns/meowbot/counter"
)

var errEmptyChannel = errors.New("channel name empty")

const leaderboardSize = 5

// handleCommand answers a !command, returning the reply text (empty for
// unknown commands, which stay silent so the bot doesn't fight other bots).
func (b *Bot) handleCommand(ctx context.Context, m inboundMessage) string {
	cmd := strings.ToLower(strings.Fields(m.Text)[0])
	log := slog.Default().With(slog.String("component", "chat"), slog.String("channel", m.Channel), slog.String("command", cmd))

	switch cmd {
	case "!meow":
		userTotal, err := b.store.UserTotal(ctx, m.UserName, m.Channel)
		if err != nil {
			log.Error("user total lookup failed", slog.Any("err", err))
			return ""
		}
		channelTotal, err := b.store.ChannelTotal(ctx, m.Channel)
		if err != nil {
			log.Error("channel total lookup failed", slog.Any("err", err))
			return ""
		}
		if userTotal == 0 {
			return fmt.Sprintf("@%s hasn't meowed here yet! This channel has %d meows total.", m.DisplayName, channelTotal)
		}
		return fmt.Sprintf("@%s has meowed %d times here! This channel has %d meows total.", m.DisplayName, userTotal, channelTotal)

	case "!mystats":
		total, channels, err := b.store.UserGlobal(ctx, m.UserName)
		if err != nil {
			log.Error("global stats lookup failed", slog.Any("err", err))
			return ""
		}
		if total == 0 {
			return fmt.Sprintf("@%s hasn't meowed anywhere yet. Time to start!", m.DisplayName)
		}
		return fmt.Sprintf("@%s has meowed %d times across %d channels!", m.DisplayName, total, channels)

	case "!top":
		entries, err := b.store.ChannelLeaderboard(ctx, m.Channel, leaderboardSize)
		if err != nil {
			log.Error("channel leaderboard failed", slog.Any("err", err))
			return ""
		}
		if len(entries) == 0 {
			return "No meows recorded here yet!"
		}
		return "Top meowers: " + formatLeaderboard(entries)

	case "!global":
		ok, err := b.store.HasGlobalAccess(ctx, m.Channel)
		if err != nil {
			log.Error("global access check failed", slog.Any("err", err))
			return ""
		}
		if !ok {
			return "This channel isn't on the global leaderboard. The broadcaster can opt in with !optinglobal."
		}
		entries, err := b.store.GlobalLeaderboard(ctx, leaderboardSize)
		if err != nil {
			log.Error("global leaderboard failed", slog.Any("err", err))
			return ""
		}
		if len(entries) == 0 {
			return "The global leaderboard is empty. Somebody meow!"
		}
		return "Global top channels: " + formatLeaderboard(entries)

	case "!optinglobal":
		// Broadcaster only: in their own channel the login matches the room.
		if m.UserName != m.Channel {
			return fmt.Sprintf("@%s only the broadcaster can opt this channel into the global leaderboard.", m.DisplayName)
		}
		if err := b.store.SetGlobalAccess(ctx, m.Channel); err != nil {
			log.Error("opt-in failed", slog.Any("err", err))
			return fmt.Sprintf("@%s something went wrong, try again later.", m.DisplayName)
		}
		return fmt.Sprintf("@%s this channel is now on the global leaderboard! See it with !global.", m.DisplayName)

	case "!requestbot":
		// The requester is the broadcaster of their own channel, so join it
		// directly; no OAuth round-trip needed for a user standing right here.
		if err := b.Join(m.UserName); err != nil {
			log.Error("requestbot join failed", slog.Any("err", err))
			return fmt.Sprintf("Couldn't join right now. You can also authorize at %s", b.websiteURL)
		}
		if err := b.store.SetApproved(ctx, m.UserName); err != nil {
			log.Error("requestbot approval persist failed", slog.Any("err", err))
		}
		return fmt.Sprintf("@%s I've joined your channel! Manage the bot at %s", m.DisplayName, b.websiteURL)

	case "!botinfo":
		return fmt.Sprintf("I count meows! Every meow in chat is tallied per user, per channel, and globally. More at %s", b.websiteURL)

	case "!meowhelp", "!help":
		return "Commands: !meow (your count), !mystats (everywhere), !top (channel leaders), !global (channel rankings), !optinglobal (broadcaster), !requestbot, !botinfo"
	}
	return ""
}

// meowReply formats the acknowledgement after recording meows.
func meowReply(displayName string, n int, userTotal, channelTotal int64) string {
	if n == 1 {
		return fmt.Sprintf("@%s meow counted! You're at %d here (channel total: %d)", displayName, userTotal, channelTotal)
	}
	return fmt.Sprintf("@%s %d meows counted! You're at %d here (channel total: %d)", displayName, n, userTotal, channelTotal)
}

func formatLeaderboard(entries []counter.LeaderboardEntry) string {
	parts := make([]string, 0, len(entries))
	for i, e := range entries {
		parts = append(parts, fmt.Sprintf("%d. %s (%d)", i+1, e.Name, e.Count))
	}
	return strings.Join(parts, " | ")
}
