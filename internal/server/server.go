package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/auth"
	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/config"
	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/handler"
	"github.com/akave-ai/clockwork/internal/logging"
	"github.com/akave-ai/clockwork/internal/middleware"
	"github.com/akave-ai/clockwork/internal/policy"
	"github.com/akave-ai/clockwork/internal/response"
	"github.com/akave-ai/clockwork/internal/storage"

	_ "github.com/akave-ai/clockwork/internal/datasource/newrelicsource"
	_ "github.com/akave-ai/clockwork/internal/datasource/runtimesource"
)

// CleanupInterval is how often expired records are removed from backends
// that support it.
const CleanupInterval = 10 * time.Minute

// Server holds the Echo app and dependencies.
type Server struct {
	Echo    *echo.Echo
	Config  *config.Config
	Logger  zerolog.Logger
	Storage storage.Storage

	newRelic *newrelic.Application
	closers  []func()
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New builds the Echo server: recovery, request logging, CORS and, when
// enabled, request collection plus the metadata API under the API path.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{Config: cfg, Logger: logger}

	if cfg.NewRelic.Enable {
		app, err := newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigEnabled(true),
		)
		if err != nil {
			return nil, fmt.Errorf("new relic: %w", err)
		}
		s.newRelic = app
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeout) * time.Second
	s.Echo = e

	middlewareNames := []string{"recover", "request-logger"}
	e.Use(echomw.Recover(), requestLogger(logger))
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.Server.CORSAllowedOrigins,
			AllowHeaders: []string{echo.HeaderContentType, clockwork.HeaderAuth, clockwork.HeaderParent},
			ExposeHeaders: []string{
				clockwork.HeaderID, clockwork.HeaderVersion, clockwork.HeaderPath, "Server-Timing",
			},
		}))
		middlewareNames = append(middlewareNames, "cors")
	}

	if cfg.Clockwork.Enable {
		if err := s.mountClockwork(ctx, middlewareNames); err != nil {
			s.close()
			return nil, err
		}
	}

	e.GET("/health", func(c echo.Context) error {
		return response.OK(c, map[string]any{
			"clockwork": cfg.Clockwork.Enable,
			"storage":   cfg.Storage.Driver,
		}, "ok")
	})
	return s, nil
}

func (s *Server) mountClockwork(ctx context.Context, middlewareNames []string) error {
	cfg := s.Config

	store, closeStore, err := openStorage(ctx, cfg, s.Logger)
	if err != nil {
		return fmt.Errorf("clockwork storage: %w", err)
	}
	s.Storage = store
	s.closers = append(s.closers, closeStore)

	var authenticator auth.Authenticator = auth.NullAuthenticator{}
	if cfg.Auth.Enable {
		authenticator, err = auth.NewSimple(cfg.Auth.PasswordHash, cfg.Auth.SigningKey, time.Duration(cfg.Auth.TokenTTL)*time.Minute)
		if err != nil {
			return fmt.Errorf("clockwork auth: %w", err)
		}
	}

	collect := policy.NewShouldCollect()
	if err := collect.MergeRules(cfg.Clockwork.Collect); err != nil {
		return fmt.Errorf("clockwork collect rules: %w", err)
	}
	record := policy.NewShouldRecord().MergeRules(cfg.Clockwork.Record)

	s.Echo.Use(middleware.Clockwork(middleware.Config{
		Logger:        s.Logger,
		LogOutput:     logging.Output(cfg.Observability, os.Stderr),
		Storage:       store,
		Authenticator: authenticator,
		ShouldCollect: collect,
		ShouldRecord:  record,
		SlowThreshold: cfg.Clockwork.SlowThreshold,
		Registry:      datasource.GlobalRegistry,
		DataSources:   cfg.Clockwork.DataSources,
		Middleware:    append(middlewareNames, "clockwork"),
		Routes:        true,
		APIPath:       cfg.Clockwork.APIPath,
		ServerTiming:  cfg.Clockwork.ServerTiming,
		NewRelic:      s.newRelic,
	}))

	h := &handler.ClockworkHandler{
		Storage:       store,
		Authenticator: authenticator,
		Registry:      datasource.GlobalRegistry,
		DataSources:   cfg.Clockwork.DataSources,
		Logger:        s.Logger,
	}
	h.Register(s.Echo.Group(cfg.Clockwork.APIPath))

	s.Logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("api_path", cfg.Clockwork.APIPath).
		Strs("data_sources", datasource.GlobalRegistry.ListRegistered()).
		Bool("auth", cfg.Auth.Enable).
		Msg("clockwork enabled")
	return nil
}

// requestLogger logs one line per request through zerolog.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil {
				ev = logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("clockwork_id", c.Response().Header().Get(clockwork.HeaderID)).
				Msg("request")
			return nil
		},
	})
}

// Start serves until ctx is cancelled or the server fails. Cancelling ctx
// shuts the server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if c, ok := s.Storage.(storage.Cleaner); ok && s.Config.Storage.Expiration > 0 {
		go runCleanup(ctx, c, CleanupInterval, s.Logger)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error().Err(err).Msg("shutdown")
		}
	}()

	addr := ":" + s.Config.Server.Port
	s.Logger.Info().Str("addr", addr).Msg("server listening")
	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, flushes New Relic and releases storage.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.stopErr = s.Echo.Shutdown(ctx)
		if s.newRelic != nil {
			s.newRelic.Shutdown(5 * time.Second)
		}
		s.close()
	})
	return s.stopErr
}

func (s *Server) close() {
	for _, fn := range s.closers {
		fn()
	}
	s.closers = nil
}
