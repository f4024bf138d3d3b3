// Command chatwarden runs the chat moderation and engagement pipeline.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Feeds Twitch IRC and Discord gateway messages through the shared
//     moderation pipeline with cached AI classification.
//   - Starts background jobs: cache maintenance, engagement history cleanup,
//     and scheduled analytics rollups.
//   - Exposes an HTTP server with health probes, /status, reports, alerts,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatwarden/ai"
	"github.com/onnwee/chatwarden/analytics"
	"github.com/onnwee/chatwarden/cache"
	"github.com/onnwee/chatwarden/classifier"
	"github.com/onnwee/chatwarden/config"
	"github.com/onnwee/chatwarden/db"
	"github.com/onnwee/chatwarden/discord"
	"github.com/onnwee/chatwarden/engagement"
	"github.com/onnwee/chatwarden/moderation"
	"github.com/onnwee/chatwarden/perfmon"
	"github.com/onnwee/chatwarden/pipeline"
	"github.com/onnwee/chatwarden/server"
	"github.com/onnwee/chatwarden/telemetry"
	"github.com/onnwee/chatwarden/twitch"
	"golang.org/x/time/rate"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chatwarden", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Migrations: versioned (golang-migrate) first, embedded SQL as the
	// fallback for deployments without a schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Caches: classification verdicts (hot path), per-scope policies, and
	// Twitch login-to-id lookups. One manager sweeps and reports all three.
	caches := cache.NewManager()
	verdictCache := cache.New[string, moderation.Verdict]("classifier_verdicts", 2000, 10*time.Minute)
	policyCache := cache.New[string, moderation.Policy]("moderation_policies", 500, 5*time.Minute)
	userIDCache := cache.New[string, string]("twitch_user_ids", 2000, 24*time.Hour)
	caches.Register(verdictCache)
	caches.Register(policyCache)
	caches.Register(userIDCache)
	go caches.Run(ctx)

	// Engagement tracker
	tracker := engagement.NewTracker()
	tracker.Window = cfg.EngagementWindow
	tracker.HypeThreshold = cfg.HypeThresholdPerMin
	tracker.HypeCooldown = cfg.HypeCooldown
	tracker.AutoRespond = cfg.AutoRespond
	tracker.ResponseDelay = cfg.ResponseDelay
	tracker.CleanupInterval = cfg.CleanupInterval
	tracker.Store = &engagement.PGStore{DB: database}
	tracker.Limiter = rate.NewLimiter(rate.Every(5*time.Second), 3)
	go tracker.StartCleanupJob(ctx)

	// Moderation engine over the cached classifier
	cachedClassifier := &classifier.Cached{
		Inner: classifier.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		Cache: verdictCache,
	}
	engine := &moderation.Engine{
		Store:      &moderation.PGStore{DB: database},
		Classifier: cachedClassifier,
		Defaults: moderation.Policy{
			Enabled:                cfg.ModerationEnabled,
			CheckAIResponses:       cfg.CheckAIResponses,
			TimeoutLadderSeconds:   cfg.TimeoutLadderSeconds,
			MaxViolationsBeforeBan: cfg.MaxViolationsBeforeBan,
			LogAllActions:          cfg.LogAllActions,
		},
		PolicyCache: policyCache,
	}

	// Performance monitor with persisted alerts
	monitor := perfmon.NewMonitor()
	perfStore := &perfmon.PGStore{DB: database}
	monitor.Store = perfStore

	// Pipeline and chat sources. The chat connectors need the pipeline and
	// the pipeline needs them as responders, so wire fields after construction.
	pipe := pipeline.New(engine, tracker)
	pipe.Events = &analytics.PGStore{DB: database}
	pipe.Monitor = monitor
	if cfg.OpenAIAPIKey != "" {
		responder := ai.NewResponder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		responder.BotName = cfg.TwitchBotUsername
		pipe.AI = responder
	}

	chatBot := &twitch.Chat{
		Channels: cfg.TwitchChannels,
		Username: cfg.TwitchBotUsername,
		OAuth:    cfg.TwitchOAuthToken,
		Pipeline: pipe,
		Tracker:  tracker,
	}
	discordBot := &discord.Bot{
		Token:    cfg.DiscordBotToken,
		Pipeline: pipe,
		Tracker:  tracker,
	}
	router := engagement.ScopeRouter{
		"twitch":     chatBot,
		"discord":    discordBot,
		"discord-dm": discordBot,
	}
	pipe.Responder = router
	tracker.Responder = router

	// Enforcement: Twitch Helix needs app credentials; without them the
	// engine still classifies and records but cannot act on Twitch scopes.
	enforcers := moderation.Enforcers{discordBot.Enforcer()}
	if err := cfg.ValidateEnforcementReady(); err != nil {
		slog.Warn("twitch enforcement disabled", slog.Any("err", err))
	} else {
		helix := &twitch.Helix{
			TokenSource: twitch.NewAppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, ""),
			ClientID:    cfg.TwitchClientID,
			UserIDs:     userIDCache,
		}
		enforcers = append(moderation.Enforcers{&twitch.Enforcer{
			Helix:       helix,
			ModeratorID: cfg.TwitchModeratorID,
			Chat:        chatBot,
		}}, enforcers...)
	}
	engine.Enforcer = enforcers

	// Chat sources
	go func() {
		if err := chatBot.Run(ctx); err != nil {
			slog.Error("twitch chat exited with error", slog.Any("err", err))
		}
	}()
	go func() {
		if err := discordBot.Run(ctx); err != nil {
			slog.Error("discord bot exited with error", slog.Any("err", err))
		}
	}()

	// Scheduled analytics rollups
	aggregator := analytics.NewAggregator(&analytics.PGStore{DB: database})
	go aggregator.StartRollupJob(ctx)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/reports/alerts/metrics)
	handlers := server.NewHandlers(database)
	handlers.Caches = caches
	handlers.Tracker = tracker
	handlers.Monitor = monitor
	handlers.PerfStore = perfStore
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
