package admin

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/lrucache/internal/caches"
	"github.com/p-blackswan/lrucache/internal/health"
	"github.com/p-blackswan/lrucache/internal/metrics"
)

// ReloadFunc re-reads cache configuration and applies it, returning the
// names of the caches whose capacity changed.
type ReloadFunc func(ctx context.Context) ([]string, error)

// ServerConfig holds configuration for the admin API server.
type ServerConfig struct {
	ListenAddr   string
	Auth         AuthConfig
	RateLimitRPS int
}

// Server is the admin API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new admin API server. metricsRegistry
// and reload may be nil.
func NewServer(
	cfg ServerConfig,
	registry *caches.Registry,
	checker *health.Checker,
	metricsRegistry *metrics.Registry,
	reload ReloadFunc,
	logger zerolog.Logger,
) *Server {
	logger = logger.With().Str("component", "admin_server").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	s := &Server{app: app, logger: logger, config: cfg}
	h := &handlers{
		registry: registry,
		metrics:  metricsRegistry,
		reload:   reload,
		logger:   logger,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(h, checker, metricsRegistry)
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		s.app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimitRPS,
			Expiration: time.Second,
			Next: func(c *fiber.Ctx) bool {
				return isProbe(c.Path())
			},
			LimitReached: func(c *fiber.Ctx) error {
				return problemResponse(c, fiber.StatusTooManyRequests,
					"rate_limit_exceeded", "Too Many Requests",
					"Rate limit exceeded. Please try again later.")
			},
		}))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))

	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Interface("request_id", c.Locals("request_id")).
			Msg("admin api request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(h *handlers, checker *health.Checker, metricsRegistry *metrics.Registry) {
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	s.app.Get("/readyz", adaptor.HTTPHandlerFunc(checker.ReadinessHandler()))
	if metricsRegistry != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsRegistry.Handler()))
	}

	v1 := s.app.Group("/api/v1")

	v1.Get("/caches", h.listCaches)
	v1.Get("/caches/:name", h.getCache)
	v1.Delete("/caches/:name", requireRole(RoleOperator), h.clearCache)
	v1.Patch("/caches/factors", requireRole(RoleAdmin), h.patchFactors)
	v1.Post("/caches/reload", requireRole(RoleAdmin), h.reloadConfig)

	v1.Get("/metrics/summary", h.metricsSummary)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("admin API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("admin API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		title := "Internal Server Error"
		detail := "An internal error occurred"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			title = e.Message
			detail = e.Message
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		return problemResponse(c, code, "internal_error", title, detail)
	}
}
