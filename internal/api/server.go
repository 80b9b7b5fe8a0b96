package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

const (
	serviceName = "Marketplace Monitor API"
	version     = "1.0.0"
)

// Monitor is the runner surface the API drives.
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
	Status() core.MonitorState
	RunOnce(ctx context.Context) (int, error)
}

// Notifier is the dispatcher surface the API drives.
type Notifier interface {
	NotifyOne(ctx context.Context, item core.Item) bool
	NotifyStatus(ctx context.Context, text string) bool
	Channels() []string
}

type Options struct {
	Config   config.EnvConfig
	Store    dedupe.SeenStore
	Monitor  Monitor
	Notifier Notifier
	Sources  marketplace.Factory
	Metrics  http.Handler
	// BaseContext outlives requests; the monitor loop started over HTTP runs
	// under it.
	BaseContext context.Context
	Logger      *slog.Logger
}

type Server struct {
	opts   Options
	echo   *echo.Echo
	logger *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				opts.Logger.Warn("http request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			opts.Logger.Debug("http request", attrs...)
			return nil
		},
	}))

	server := &Server{
		opts:   opts,
		echo:   e,
		logger: opts.Logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/config", s.handleConfig)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/listings", s.handleListings)
	s.echo.DELETE("/listings", s.handleClearListings)
	s.echo.POST("/search", s.handleSearch)
	s.echo.POST("/notify", s.handleNotify)
	s.echo.POST("/notify/listing", s.handleNotifyListing)
	s.echo.POST("/check", s.handleCheck)

	monitor := s.echo.Group("/monitor")
	monitor.POST("/start", s.handleMonitorStart)
	monitor.POST("/stop", s.handleMonitorStop)

	if s.opts.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on addr. A graceful Shutdown makes it return nil.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting api server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
