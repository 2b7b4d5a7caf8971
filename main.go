// Command live-herald polls Twitch for tracked broadcasters going live and
// announces each new session exactly once. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the storage backend (Postgres with migrations, or JSON files).
//   - Runs the poll scheduler, the ledger pruner and the app token refresher.
//   - Connects the optional Twitch chat bot for !addstreamer style commands.
//   - Exposes /healthz, /readyz, /status, /metrics, the admin API and the dashboard.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-herald/announce"
	"github.com/onnwee/live-herald/chat"
	"github.com/onnwee/live-herald/config"
	"github.com/onnwee/live-herald/crypto"
	"github.com/onnwee/live-herald/db"
	"github.com/onnwee/live-herald/ledger"
	"github.com/onnwee/live-herald/live"
	"github.com/onnwee/live-herald/oauth"
	"github.com/onnwee/live-herald/server"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/tracked"
	"github.com/onnwee/live-herald/twitchapi"
)

const (
	trackedFile = "streamers.json"
	ledgerFile  = "announced_streams.json"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("live-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	slog.Info("telemetry initialized", slog.Bool("tracing", telemetry.IsTracingEnabled()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("live-herald exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults: level=info, format=text.
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
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// storage bundles whichever backend STORE_BACKEND selected.
type storage struct {
	db      *sql.DB
	backend tracked.Backend
	ledger  ledger.Ledger
	tokens  twitchapi.TokenStore
}

func (s *storage) Close() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("err", err))
	}
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StoreBackend == config.BackendFile {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		l, err := ledger.NewFile(filepath.Join(cfg.DataDir, ledgerFile))
		if err != nil {
			return nil, err
		}
		slog.Info("using file storage", slog.String("dir", cfg.DataDir), slog.String("component", "storage"))
		return &storage{backend: tracked.NewFileBackend(filepath.Join(cfg.DataDir, trackedFile)), ledger: l}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	// Versioned migrations first; the embedded idempotent schema covers
	// databases that predate schema_migrations.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
	}
	l, err := ledger.NewPostgres(ctx, database)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	tokens := &db.TokenStore{DB: database}
	if cfg.EncryptionKey != "" {
		sealer, err := crypto.NewAESSealer(cfg.EncryptionKey, crypto.DefaultKeyID)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		tokens.Sealer = sealer
	} else {
		slog.Warn("ENCRYPTION_KEY not set; app token is stored in plaintext", slog.String("component", "storage"))
	}
	return &storage{db: database, backend: tracked.NewPostgresBackend(database), ledger: l, tokens: tokens}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	set, err := tracked.New(ctx, store.backend)
	if err != nil {
		return err
	}
	if len(cfg.Seed) > 0 {
		seed := make([]tracked.Entry, 0, len(cfg.Seed))
		for _, s := range cfg.Seed {
			seed = append(seed, tracked.Entry{Identity: s.Identity, Template: s.Template})
		}
		added, err := set.Seed(ctx, seed)
		if err != nil {
			return err
		}
		slog.Info("seeded tracked broadcasters", slog.Int("added", added), slog.Int("tracked", set.Snapshot().Len()))
	}

	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.HelixTimeout},
		Store:        store.tokens,
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: tokens,
		ClientID:       cfg.TwitchClientID,
		HTTPClient:     &http.Client{Timeout: cfg.HelixTimeout},
		Timeout:        cfg.HelixTimeout,
	}

	var cmds *chat.Commands
	if cfg.ChatCommands {
		cmds = &chat.Commands{Store: set}
	}
	bot := chat.NewBot(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChatChannel, cmds)

	feed := announce.NewFeed(announce.DefaultFeedBacklog)
	defer feed.Close()
	sinks := announce.NewFanout()
	if cfg.DiscordWebhookURL != "" {
		sinks.Add("discord", &announce.DiscordWebhook{
			URL:        cfg.DiscordWebhookURL,
			Username:   cfg.DiscordUsername,
			HTTPClient: &http.Client{Timeout: cfg.SendTimeout},
		})
	}
	if cfg.ChatAnnounce {
		sinks.Add("chat", &chat.Announcer{Bot: bot})
	}
	sinks.Add("feed", feed)
	slog.Info("announcement sinks configured", slog.Any("sinks", sinks.Names()))

	scheduler := &live.Scheduler{
		Tracked:  set,
		Source:   &live.HelixSource{Client: helix},
		Detector: &live.Detector{Ledger: store.ledger},
		Announcer: &announce.Dispatcher{
			Sink:        sinks,
			Formatter:   announce.Formatter{ThumbnailWidth: cfg.ThumbnailWidth, ThumbnailHeight: cfg.ThumbnailHeight},
			Concurrency: cfg.DispatchConcurrency,
			SendTimeout: cfg.SendTimeout,
		},
		Pruner: &live.Pruner{
			Ledger:     store.ledger,
			Interval:   cfg.PruneInterval,
			StaleTicks: cfg.LedgerStaleTicks,
		},
		Interval:   cfg.PollInterval,
		MaxBackoff: cfg.PollMaxBackoff,
	}

	oauth.StartRefresher(ctx, tokens, twitchapi.ProviderTwitchApp, oauth.DefaultInterval, oauth.DefaultWindow)
	startPprof()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				slog.Error(name+" exited with error", slog.Any("err", err))
				errs <- err
				cancel()
			}
		}()
	}
	spawn("poll scheduler", scheduler.Run)
	if err := cfg.ValidateChatReady(); err == nil {
		spawn("chat bot", bot.Run)
	} else {
		slog.Info("chat bot disabled", slog.Any("reason", err))
	}
	spawn("http server", func(ctx context.Context) error {
		return server.Start(ctx, server.Deps{
			DB:        store.db,
			Tracked:   set,
			Ledger:    store.ledger,
			Scheduler: scheduler,
			Feed:      feed,
		}, cfg.HTTPAddr)
	})

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
	close(errs)
	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

// startPprof serves /debug/pprof on PPROF_ADDR when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
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
