package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/datasource/fasthttpsource"
	"github.com/akave-ai/clockwork/internal/logging"
	"github.com/akave-ai/clockwork/internal/model"
)

const (
	userValueKey = "clockwork"
	loggerKey    = "clockwork.logger"
)

// FromFastHTTP returns the collector of a request instrumented by FastHTTP.
func FromFastHTTP(ctx *fasthttp.RequestCtx) *clockwork.Clockwork {
	cw, _ := ctx.UserValue(userValueKey).(*clockwork.Clockwork)
	return cw
}

// LoggerFromFastHTTP returns the request logger, which also writes into the
// collected log, or a disabled logger outside instrumented requests.
func LoggerFromFastHTTP(ctx *fasthttp.RequestCtx) *zerolog.Logger {
	if l, ok := ctx.UserValue(loggerKey).(*zerolog.Logger); ok {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}

// FastHTTP wraps next the way Clockwork wraps echo handlers. Echo-only
// settings (Skipper, Routes, NewRelic) are ignored.
func FastHTTP(cfg Config, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	cfg.defaults()
	apiPath := strings.TrimSuffix(cfg.APIPath, "/")

	return func(ctx *fasthttp.RequestCtx) {
		if apiPath != "" && strings.HasPrefix(string(ctx.Path()), apiPath) {
			next(ctx)
			return
		}
		var r http.Request
		if err := fasthttpadaptor.ConvertRequest(ctx, &r, true); err != nil || !cfg.ShouldCollect.Filter(&r) {
			next(ctx)
			return
		}

		start := cfg.now()
		extra, err := cfg.Registry.CreateAll(cfg.DataSources, nil)
		if err != nil {
			cfg.Logger.Error().Err(err).Msg("clockwork: create data sources")
			next(ctx)
			return
		}
		fs := fasthttpsource.New(ctx)
		fs.SetClock(cfg.now)

		cw := clockwork.New(
			clockwork.WithClock(cfg.now),
			clockwork.WithDataSources(append([]datasource.DataSource{fs}, extra...)...),
			clockwork.WithStorage(cfg.Storage),
			clockwork.WithAuthenticator(cfg.Authenticator),
			clockwork.WithShouldCollect(cfg.ShouldCollect),
			clockwork.WithShouldRecord(cfg.ShouldRecord),
			clockwork.WithSlowThreshold(cfg.SlowThreshold),
			clockwork.WithLogger(cfg.Logger),
		)
		req := cw.Request()
		req.Time = model.Microtime(start)
		req.Parent = string(ctx.Request.Header.Peek(clockwork.HeaderParent))
		req.Controller = string(ctx.Method()) + " " + string(ctx.Path())

		logger := logging.RequestLogger(cfg.Logger.With().Str("request_id", req.ID).Logger(), cfg.LogOutput, cw.Log())
		ctx.SetUserValue(userValueKey, cw)
		ctx.SetUserValue(loggerKey, &logger)

		controller := cw.Event("Controller", model.EventData{Name: "controller", Start: start, Color: "blue"})
		next(ctx)
		controller.Close()

		ctx.Response.Header.Set(clockwork.HeaderID, req.ID)
		ctx.Response.Header.Set(clockwork.HeaderVersion, clockwork.Version)
		if apiPath != "" {
			ctx.Response.Header.Set(clockwork.HeaderPath, apiPath+"/")
		}
		if cfg.ServerTiming > 0 {
			ctx.Response.Header.Set("Server-Timing", ServerTiming(cfg.now().Sub(start), req.Timeline, cfg.ServerTiming))
		}

		resolveCtx := clockwork.NewContext(context.Background(), cw)
		if err := cw.ResolveRequest(resolveCtx); err != nil {
			cfg.Logger.Warn().Err(err).Str("request_id", req.ID).Msg("clockwork: resolve request")
			return
		}
		if cw.ShouldRecord().Filter(cw.Request()) {
			if err := cw.StoreRequest(clockwork.Detach(resolveCtx)); err != nil {
				cfg.Logger.Warn().Err(err).Str("request_id", req.ID).Msg("clockwork: store request")
			}
		}
	}
}
