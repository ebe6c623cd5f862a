// Command slash-or-smash runs the show backend.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the Postgres store (running migrations) or the in-memory store.
//   - Wires the round engine to Twitch predictions when a client id is set.
//   - Runs the HTTP API, the chat vote listener and the Twitch token refresher.
//
// Shutdown is graceful on SIGINT/SIGTERM: in-flight prediction calls are
// allowed to finish before exit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/kevin-huff/slash-or-smash/chat"
	"github.com/kevin-huff/slash-or-smash/config"
	"github.com/kevin-huff/slash-or-smash/crypto"
	"github.com/kevin-huff/slash-or-smash/db"
	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/prediction"
	"github.com/kevin-huff/slash-or-smash/server"
	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/telemetry"
	"github.com/kevin-huff/slash-or-smash/twitchapi"
)

// appStore is what both store backends provide.
type appStore interface {
	show.Store
	oauth.TokenStore
	Ping(ctx context.Context) error
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg)

	telemetry.Init()

	// Tracing is optional; it stays off without OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdown, err := telemetry.InitTracing(telemetry.TracingConfig{
		ServiceName:    "slash-or-smash",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	if telemetry.IsTracingEnabled() {
		slog.Info("tracing enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	// Twitch: the broadcaster's user token is stored by the OAuth callback and
	// refreshed in the background.
	var oauthCfg *oauth2.Config
	var refresh oauth.RefreshFunc
	if cfg.OAuthReady() {
		oauthCfg = twitchapi.NewOAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, twitchapi.ParseScopes(cfg.TwitchScopes))
		refresh = oauth.ConfigRefresher(oauthCfg)
		oauth.StartRefresher(ctx, store, twitchapi.Provider, cfg.RefreshInterval, cfg.RefreshWindow, refresh)
	} else {
		slog.Info("twitch oauth not configured; broadcaster login disabled")
	}
	tokens := &twitchapi.StoredToken{Store: store, Refresh: refresh}
	helix := &twitchapi.HelixClient{Auth: tokens, ClientID: cfg.TwitchClientID, BaseURL: cfg.TwitchHelixURL}

	engineOpts := []show.Option{
		show.WithLogger(slog.Default()),
		show.WithHookTimeout(cfg.PredictionTimeout),
	}
	var preds *prediction.Service
	if cfg.TwitchClientID != "" {
		preds = prediction.New(helix, store,
			prediction.WithTokens(store),
			prediction.WithBroadcasterID(cfg.TwitchBroadcasterID),
			prediction.WithLogger(slog.Default()),
		)
		engineOpts = append(engineOpts, show.WithPredictor(preds))
	} else {
		slog.Info("twitch predictions disabled (missing TWITCH_CLIENT_ID)")
	}
	engine := show.NewEngine(store, engineOpts...)

	routerOpts := server.Options{
		Engine:   engine,
		Health:   store,
		Config:   cfg,
		OAuth:    oauthCfg,
		Tokens:   store,
		Identity: helix,
	}
	if preds != nil {
		routerOpts.Predictions = preds
	}
	handler := server.NewRouter(ctx, routerOpts)

	startPprof()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, handler)
	})
	if cfg.ChatReady() {
		listener := chat.NewListener(chat.Config{
			Channel:    cfg.TwitchChannel,
			Username:   cfg.TwitchBotUsername,
			OAuthToken: cfg.TwitchOAuthToken,
			Tokens:     tokens.AccessToken,
		}, engine, slog.Default())
		// Chat is a secondary vote source; losing it must not stop the show.
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil {
				slog.Error("chat listener stopped", slog.Any("err", err))
			}
			return nil
		})
	} else {
		slog.Info("chat votes disabled (missing TWITCH_CHANNEL/TWITCH_BOT_USERNAME or CHAT_VOTES_ENABLED=false)")
	}

	if err := g.Wait(); err != nil {
		slog.Error("service exited with error", slog.Any("err", err))
	}
	slog.Info("shutting down; waiting for prediction calls")
	engine.Wait()
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging(cfg *config.Config) {
	lvl := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	json := strings.EqualFold(cfg.LogFormat, "json")
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.Bool("json", json))
}

func openStore(ctx context.Context, cfg *config.Config) (appStore, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		slog.Warn("using in-memory store; state is lost on restart")
		return db.NewMemoryStore(time.Now()), func() {}, nil
	}

	database, err := db.Open(cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}

	// Versioned migrations first; the idempotent statement list covers
	// databases created before schema_migrations existed.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate db (both versioned and embedded SQL failed): %w", err)
		}
	}

	var opts []db.StoreOption
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESGCM(cfg.EncryptionKey)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("encryption key: %w", err)
		}
		opts = append(opts, db.WithEncryptor(enc))
		slog.Info("oauth token encryption enabled", slog.String("key_id", enc.KeyID()))
	} else {
		slog.Warn("ENCRYPTION_KEY not set; oauth tokens are stored in plaintext")
	}
	return db.NewStore(database, opts...), closeDB, nil
}

// startPprof serves profiling endpoints when ENABLE_PPROF=1.
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
