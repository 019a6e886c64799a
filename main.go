// Command meowbot is the chat bot process. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations (versioned, with embedded fallback).
//   - Connects to Twitch chat, rejoins persisted channels, and counts meows.
//   - Polls the coordinator for newly authorized channels and joins them.
//   - Keeps the chat token refreshed from the oauth_tokens table.
//   - Exposes a diagnostics HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fireflydesigns/meowbot/chat"
	"github.com/fireflydesigns/meowbot/config"
	"github.com/fireflydesigns/meowbot/counter"
	"github.com/fireflydesigns/meowbot/db"
	"github.com/fireflydesigns/meowbot/oauth"
	"github.com/fireflydesigns/meowbot/reconcile"
	"github.com/fireflydesigns/meowbot/telemetry"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("meowbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	runMigrations(database)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Chat token precedence: explicit env token, then the persisted one from
	// the coordinator's OAuth flow.
	if cfg.TwitchOAuthToken == "" {
		access, _, _, _, err := db.GetOAuthToken(ctx, database, "twitch")
		if err != nil {
			slog.Warn("stored token read failed", slog.Any("err", err))
		} else if access != "" {
			cfg.TwitchOAuthToken = access
			slog.Info("using stored chat token")
		}
	}

	store := counter.NewStore(database)
	bot := chat.NewBot(cfg, store)
	reconciler := reconcile.New(bot, store, cfg.CoordinatorURL, cfg.PollInterval, cfg.PollTimeout,
		reconcile.WithJoinFile(cfg.JoinFilePath))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bot.Run(gctx)
	})

	g.Go(func() error {
		for _, ch := range cfg.InitialChannels {
			if err := bot.Join(ch); err != nil {
				slog.Warn("initial join failed", slog.String("channel", ch), slog.Any("err", err))
			}
		}
		if err := reconciler.RejoinPersisted(gctx); err != nil {
			slog.Error("rejoin persisted channels failed", slog.Any("err", err))
		}
		return reconciler.Run(gctx)
	})

	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		refresher := &oauth.Refresher{
			DB:       database,
			Provider: "twitch",
			Fn:       oauth.TwitchRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret, ""),
		}
		g.Go(func() error {
			return refresher.Run(gctx)
		})
	} else {
		slog.Info("token refresher disabled (missing client id/secret)")
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	startedAt := time.Now()
	g.Go(func() error {
		return serveDiagnostics(gctx, addr, database, bot, startedAt)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker exited", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

// runMigrations prefers versioned migrations and falls back to the embedded
// idempotent SQL for databases predating schema_migrations.
func runMigrations(database *sql.DB) {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("migrations failed", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// serveDiagnostics runs the bot's local HTTP surface.
func serveDiagnostics(ctx context.Context, addr string, database *sql.DB, bot *chat.Bot, startedAt time.Time) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		connected := bot.ConnectedSince()
		status := map[string]any{
			"joined_channels": bot.JoinedCount(),
			"connected":       !connected.IsZero(),
			"uptime_seconds":  int(time.Since(startedAt).Seconds()),
		}
		if !connected.IsZero() {
			status["connected_since"] = connected.UTC().Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
