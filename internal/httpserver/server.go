package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/apikey"
	"github.com/ultravioletadao/x402-facilitator/internal/config"
	"github.com/ultravioletadao/x402-facilitator/internal/discovery"
	"github.com/ultravioletadao/x402-facilitator/internal/idempotency"
	"github.com/ultravioletadao/x402-facilitator/internal/logger"
	"github.com/ultravioletadao/x402-facilitator/internal/metrics"
	"github.com/ultravioletadao/x402-facilitator/internal/ratelimit"
	"github.com/ultravioletadao/x402-facilitator/internal/versioning"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/dispatcher"
)

var serverStartTime = time.Now()

// Server wires the facilitator's HTTP handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

// handlers holds every dependency a route handler needs. Unlike the
// paywall/commerce server this is adapted from, there is no persistence
// layer here: verify/settle are answered entirely from the dispatcher, the
// discovery registry, and the compliance checker's in-memory state.
type handlers struct {
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	discovery  *discovery.Registry
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New builds the HTTP server with a fully configured router.
func New(cfg *config.Config, disp *dispatcher.Dispatcher, registry *discovery.Registry, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:        cfg,
			dispatcher: disp,
			discovery:  registry,
			metrics:    metricsCollector,
			logger:     appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, disp, registry, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches facilitator routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, disp *dispatcher.Dispatcher, registry *discovery.Registry, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	h := handlers{
		cfg:        cfg,
		dispatcher: disp,
		discovery:  registry,
		metrics:    metricsCollector,
		logger:     appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Payment-Response"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// API version negotiation (adds version to context from Accept header)
	router.Use(versioning.Negotiation)

	// API key authentication (BEFORE rate limiting; extracts tier for exemptions)
	apiKeyCfg := apikey.Config{
		Enabled: cfg.APIKey.Enabled,
		APIKeys: make(map[string]apikey.Tier),
	}
	for key, tierStr := range cfg.APIKey.Keys {
		apiKeyCfg.APIKeys[key] = apikey.Tier(tierStr)
	}
	router.Use(apikey.Middleware(apiKeyCfg))

	// Rate limiting (global, per-wallet via X-Wallet/X-Signer/?wallet=, per-IP fallback)
	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:    cfg.RateLimit.GlobalEnabled,
		GlobalLimit:      cfg.RateLimit.GlobalLimit,
		GlobalWindow:     cfg.RateLimit.GlobalWindow.Duration,
		GlobalBurst:      cfg.RateLimit.GlobalLimit / 10,
		PerWalletEnabled: cfg.RateLimit.PerWalletEnabled,
		PerWalletLimit:   cfg.RateLimit.PerWalletLimit,
		PerWalletWindow:  cfg.RateLimit.PerWalletWindow.Duration,
		PerWalletBurst:   cfg.RateLimit.PerWalletLimit / 6,
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow.Duration,
		PerIPBurst:       cfg.RateLimit.PerIPLimit / 6,
		Metrics:          metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.WalletLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	// Timeout middleware is applied selectively per route group below: the
	// lightweight group serves health/version/supported/blacklist/discovery/
	// metrics, the heavier
	// group serves /verify and /settle, which may wait on RPC confirmation
	// or the FHE proxy's own backend timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", h.health)
		r.Get("/version", h.version)
		r.Get("/supported", h.supported)
		r.Get("/blacklist", h.blacklist)
		r.Get("/.well-known/x402", h.wellKnown)
		r.Get("/discovery/resources", h.listResources)
		r.Post("/discovery/register", h.registerResource)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(90 * time.Second))
		r.Post("/verify", h.verify)
		// Settle accepts an optional Idempotency-Key header so a client
		// retrying after a dropped connection doesn't risk double-submitting
		// the authorized transfer on-chain.
		r.With(idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.DefaultTTL)).Post("/settle", h.settle)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, letting in-flight /settle calls
// finish within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
