// Package server exposes the show's HTTP API: the producer console under
// /api/control, the public overlay, leaderboard, judge console and audience
// vote routes, the Twitch integration and health, readiness and metrics.
// Control and judge management routes sit behind admin auth. Every request
// carries a correlation id and a tracing span.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/kevin-huff/slash-or-smash/config"
	"github.com/kevin-huff/slash-or-smash/oauth"
	"github.com/kevin-huff/slash-or-smash/prediction"
	"github.com/kevin-huff/slash-or-smash/show"
	"github.com/kevin-huff/slash-or-smash/telemetry"
	"github.com/kevin-huff/slash-or-smash/twitchapi"
)

// Predictions is the Twitch prediction integration as the console sees it.
type Predictions interface {
	Status(ctx context.Context) (prediction.Status, error)
	SetEnabled(ctx context.Context, on bool) error
	Retry(ctx context.Context, itemID string, window time.Duration) (string, error)
	Disconnect(ctx context.Context) error
}

// Identity looks up the account behind the stored Twitch token.
type Identity interface {
	CurrentUser(ctx context.Context) (twitchapi.User, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the router's dependencies. Engine, Health and Config are
// required; the Twitch pieces are optional and their routes degrade when
// absent.
type Options struct {
	Engine      *show.Engine
	Health      Pinger
	Config      *config.Config
	Predictions Predictions
	OAuth       *oauth2.Config
	Tokens      oauth.TokenStore
	Identity    Identity
}

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewRouter(ctx context.Context, opts Options) http.Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	authCfg := loadAuthConfig(cfg)
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig(cfg))
	h := NewHandlers(opts)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)

	// Public: overlays poll state, viewers vote, Twitch redirects back.
	r.Get("/api/control/overlay/state", h.HandleOverlayState)
	r.With(rateLimitMiddleware(limiter)).Post("/api/control/audience/vote", h.HandleAudienceVote)
	r.Get("/auth/twitch/callback", h.HandleTwitchOAuthCallback)
	r.Get("/api/leaderboard", h.HandleLeaderboard)

	// Judge consoles authenticate with the token from their invite link.
	r.Get("/api/judge/icons", h.HandleJudgeIcons)
	r.Post("/api/judge/profile", h.HandleJudgeProfile)
	r.Post("/api/judge/activate", h.HandleActivateJudge)
	r.Post("/api/judge/ping", h.HandlePingJudge)
	r.Post("/api/judge/vote", h.HandleJudgeVote)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return adminAuth(next, authCfg) })

		r.Get("/auth/twitch/start", h.HandleTwitchOAuthStart)

		r.Get("/api/control/state", h.HandleState)
		r.Post("/api/control/start", h.HandleAdvance)
		r.Post("/api/control/lock", h.HandleLock)
		r.Post("/api/control/results", h.HandleResults)
		r.Post("/api/control/reopen", h.HandleReopen)
		r.Post("/api/control/reset", h.HandleReset)
		r.Post("/api/control/clear-all", h.HandleClearAll)

		r.Put("/api/control/queue", h.HandleReorderQueue)
		r.Delete("/api/control/queue/{itemID}", h.HandleRemoveFromQueue)

		r.Post("/api/control/timer/pause", h.HandlePauseTimer)
		r.Post("/api/control/timer/resume", h.HandleResumeTimer)
		r.Post("/api/control/timer/extend", h.HandleExtendTimer)

		r.Post("/api/control/overlay/voting", h.HandleOverlayVoting)

		r.Put("/api/control/votes/{itemID}/{judgeID}", h.HandleUpsertVote)
		r.Delete("/api/control/votes/{itemID}/{judgeID}", h.HandleDeleteVote)
		r.Delete("/api/control/votes", h.HandleClearVotes)

		r.Get("/api/control/settings", h.HandleGetSettings)
		r.Put("/api/control/settings", h.HandlePutSettings)

		r.Post("/api/items", h.HandleRegisterItem)

		r.Get("/api/judges", h.HandleListJudges)
		r.Post("/api/judges", h.HandleCreateJudge)
		r.Post("/api/judges/{judgeID}/disable", h.HandleDisableJudge)

		r.Get("/api/integrations/twitch/status", h.HandleTwitchStatus)
		r.Post("/api/integrations/twitch/toggle", h.HandleTwitchToggle)
		r.Post("/api/integrations/twitch/disconnect", h.HandleTwitchDisconnect)
		r.Post("/api/integrations/twitch/prediction/retry", h.HandlePredictionRetry)
	})

	return newCORS(loadCORSConfig(cfg)).Handler(r)
}

// observe injects the correlation id, opens a span and records the status.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode))
			span.SetStatus(code, msg)
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
