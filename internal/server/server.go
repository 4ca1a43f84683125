// Package server exposes the broker over HTTP: the login redirect and
// callback, the bearer token endpoint used by the browser client, logout,
// health and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/alexjbarnes/reddit-broker/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultLoginTTL bounds how long a user may take on Reddit's consent
// page before the callback is refused.
const defaultLoginTTL = 10 * time.Minute

const (
	callbackPath = "/authorize_callback"

	// loginCookieName carries the state nonce from /login to the callback
	// so only the browser that started a login can complete it.
	loginCookieName = "reddit_login_state"
)

// Authorizer builds authorize redirects and revokes tokens on logout.
type Authorizer interface {
	AuthCodeURL(state string) string
	Revoke(ctx context.Context, token, hint string) error
}

// LoginStore keeps in-flight login redirects between /login and the
// callback.
type LoginStore interface {
	SaveLoginState(nonce string, ls models.LoginState) error
	ConsumeLoginState(nonce string, now time.Time) (*models.LoginState, error)
}

// Options holds the dependencies of a Handler.
type Options struct {
	Broker        *session.Broker
	Authorizer    Authorizer
	States        LoginStore
	Gatherer      prometheus.Gatherer
	ClientURL     string
	SessionLength time.Duration
	SecureCookies bool
	LoginTTL      time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Handler serves the broker's HTTP endpoints.
type Handler struct {
	broker        *session.Broker
	authorizer    Authorizer
	states        LoginStore
	gatherer      prometheus.Gatherer
	clientURL     string
	sessionLength time.Duration
	secure        bool
	loginTTL      time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a Handler.
func New(opts Options) *Handler {
	h := &Handler{
		broker:        opts.Broker,
		authorizer:    opts.Authorizer,
		states:        opts.States,
		gatherer:      opts.Gatherer,
		clientURL:     opts.ClientURL,
		sessionLength: opts.SessionLength,
		secure:        opts.SecureCookies,
		loginTTL:      opts.LoginTTL,
		now:           opts.Now,
		logger:        opts.Logger,
	}

	if h.clientURL == "" {
		h.clientURL = "/"
	}

	if h.loginTTL <= 0 {
		h.loginTTL = defaultLoginTTL
	}

	if h.now == nil {
		h.now = time.Now
	}

	if h.logger == nil {
		h.logger = slog.Default()
	}

	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}

	return h
}

// Routes returns a router with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(h.logger),
		middleware.Recoverer,
	)

	r.Get("/login", h.handleLogin)
	r.Get(callbackPath, h.handleCallback)
	r.Get("/api/token", h.handleToken)
	r.Post("/logout", h.handleLogout)
	r.Get("/logout", h.handleLogout)
	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return r
}

// requestLogger logs one line per request. Health checks are logged at
// debug level so probes do not flood the log.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				level = slog.LevelDebug
			}

			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
