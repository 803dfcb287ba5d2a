// Package middleware collects a diagnostics record for every HTTP request
// served by echo or fasthttp.
package middleware

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/auth"
	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/datasource/echosource"
	"github.com/akave-ai/clockwork/internal/datasource/httpsource"
	"github.com/akave-ai/clockwork/internal/logging"
	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/policy"
	"github.com/akave-ai/clockwork/internal/storage"
)

// Config is shared by every request the middleware instruments.
type Config struct {
	Skipper echomw.Skipper

	Logger    zerolog.Logger
	LogOutput io.Writer

	Storage       storage.Storage
	Authenticator auth.Authenticator
	ShouldCollect *policy.ShouldCollect
	ShouldRecord  *policy.ShouldRecord
	SlowThreshold float64

	// Registry and DataSources name extra sources created per request.
	Registry    *datasource.Registry
	DataSources []string
	// Middleware names the stack in front of the handlers, for display.
	Middleware []string
	Routes     bool

	// APIPath is excluded from collection and advertised in X-Clockwork-Path.
	APIPath string
	// ServerTiming caps the timeline events in the Server-Timing header;
	// zero disables the header.
	ServerTiming int

	NewRelic *newrelic.Application

	now func() time.Time
}

func (cfg *Config) defaults() {
	if cfg.Skipper == nil {
		cfg.Skipper = echomw.DefaultSkipper
	}
	if cfg.ShouldCollect == nil {
		cfg.ShouldCollect = policy.NewShouldCollect()
	}
	if cfg.ShouldRecord == nil {
		cfg.ShouldRecord = policy.NewShouldRecord()
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NullAuthenticator{}
	}
	if cfg.Registry == nil {
		cfg.Registry = datasource.GlobalRegistry
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
}

// Clockwork returns echo middleware that builds a fresh collector per
// request, resolves it once the handler returns and stores it when the
// record policy agrees.
func Clockwork(cfg Config) echo.MiddlewareFunc {
	cfg.defaults()
	apiPath := strings.TrimSuffix(cfg.APIPath, "/")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			if cfg.Skipper(c) || (apiPath != "" && strings.HasPrefix(r.URL.Path, apiPath)) {
				return next(c)
			}
			if !cfg.ShouldCollect.Filter(r) {
				return next(c)
			}

			start := cfg.now()
			extra, err := cfg.Registry.CreateAll(cfg.DataSources, nil)
			if err != nil {
				cfg.Logger.Error().Err(err).Msg("clockwork: create data sources")
				return next(c)
			}

			hs := httpsource.New(r)
			hs.SetClock(cfg.now)
			opts := []echosource.Option{echosource.WithMiddleware(cfg.Middleware...)}
			if cfg.Routes {
				opts = append(opts, echosource.WithRoutes())
			}
			sources := append([]datasource.DataSource{hs, echosource.New(c, opts...)}, extra...)

			cw := clockwork.New(
				clockwork.WithClock(cfg.now),
				clockwork.WithDataSources(sources...),
				clockwork.WithStorage(cfg.Storage),
				clockwork.WithAuthenticator(cfg.Authenticator),
				clockwork.WithShouldCollect(cfg.ShouldCollect),
				clockwork.WithShouldRecord(cfg.ShouldRecord),
				clockwork.WithSlowThreshold(cfg.SlowThreshold),
				clockwork.WithLogger(cfg.Logger),
			)
			req := cw.Request()
			req.Time = model.Microtime(start)
			req.Parent = r.Header.Get(clockwork.HeaderParent)

			logger := logging.RequestLogger(
				cfg.Logger.With().Str("request_id", req.ID).Logger(),
				cfg.LogOutput,
				cw.Log(),
			)
			ctx := httpsource.WithStartTime(r.Context(), start)
			ctx = clockwork.NewContext(ctx, cw)
			ctx = logger.WithContext(ctx)

			if cfg.NewRelic != nil {
				txn := cfg.NewRelic.StartTransaction(r.Method + " " + c.Path())
				defer txn.End()
				txn.SetWebRequestHTTP(r)
				c.Response().Writer = txn.SetWebResponse(c.Response().Writer)
				ctx = newrelic.NewContext(ctx, txn)
			}
			c.SetRequest(r.WithContext(ctx))

			res := c.Response()
			res.Before(func() {
				h := res.Header()
				h.Set(clockwork.HeaderID, req.ID)
				h.Set(clockwork.HeaderVersion, clockwork.Version)
				if apiPath != "" {
					h.Set(clockwork.HeaderPath, apiPath+"/")
				}
				if cfg.ServerTiming > 0 {
					h.Set("Server-Timing", ServerTiming(cfg.now().Sub(start), req.Timeline, cfg.ServerTiming))
				}
			})

			controller := cw.Event("Controller", model.EventData{Name: "controller", Start: start, Color: "blue"})
			if err = next(c); err != nil {
				cw.Log().Error(err.Error(), map[string]any{"type": "handler error"})
				c.Error(err)
			}
			controller.Close()

			hs.SetResponse(responseStatus(res))
			finish(c, cw, cfg.Logger)
			return err
		}
	}
}

func responseStatus(res *echo.Response) int {
	if res.Status == 0 {
		return http.StatusOK
	}
	return res.Status
}

// finish resolves and, when the record policy allows it, stores the
// request. Collector failures never fail the response.
func finish(c echo.Context, cw *clockwork.Clockwork, logger zerolog.Logger) {
	ctx := c.Request().Context()
	if err := cw.ResolveRequest(ctx); err != nil {
		logger.Warn().Err(err).Str("request_id", cw.Request().ID).Msg("clockwork: resolve request")
		return
	}
	if !cw.ShouldRecord().Filter(cw.Request()) {
		return
	}
	if err := cw.StoreRequest(clockwork.Detach(ctx)); err != nil {
		logger.Warn().Err(err).Str("request_id", cw.Request().ID).Msg("clockwork: store request")
	}
}
