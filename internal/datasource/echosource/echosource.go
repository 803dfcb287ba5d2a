// Package echosource resolves routing data from an echo request context.
//
// Claimed fields: controller, routes, middleware, authenticatedUser.
package echosource

import (
	"context"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

// UserKey is the echo context key read for the authenticated user, the key
// echo-jwt and most auth middleware store their claims under.
const UserKey = "user"

// DataSource reads the matched route of one echo request.
type DataSource struct {
	c          echo.Context
	middleware []string
	collectAll bool
}

// Option configures a DataSource.
type Option func(*DataSource)

// WithMiddleware names the middleware stack wrapping the handler.
func WithMiddleware(names ...string) Option {
	return func(d *DataSource) { d.middleware = append(d.middleware, names...) }
}

// WithRoutes also lists every registered route on the request.
func WithRoutes() Option {
	return func(d *DataSource) { d.collectAll = true }
}

func New(c echo.Context, opts ...Option) *DataSource {
	d := &DataSource{c: c}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DataSource) Resolve(_ context.Context, req *model.Request) error {
	if d.c == nil {
		return nil
	}
	method := d.c.Request().Method
	routePath := d.c.Path()

	var routes []*echo.Route
	if e := d.c.Echo(); e != nil {
		routes = e.Routes()
	}

	for _, r := range routes {
		if r.Method == method && r.Path == routePath {
			req.Controller = handlerName(r.Name)
			break
		}
	}
	if req.Controller == "" && routePath != "" {
		req.Controller = method + " " + routePath
	}

	if len(d.middleware) > 0 {
		req.Middleware = append([]string(nil), d.middleware...)
	}

	if user := d.c.Get(UserKey); user != nil {
		if m, ok := serializer.Normalize(user).(map[string]any); ok {
			req.AuthenticatedUser = serializer.Sanitize(m)
		}
	}

	if d.collectAll {
		req.Routes = Routes(routes)
	}
	return nil
}

func (d *DataSource) Extend(context.Context, *model.Request) error { return nil }

func (d *DataSource) Reset() {
	d.c = nil
}

// Routes converts echo routes into route entries ordered by path then
// method.
func Routes(routes []*echo.Route) []model.Route {
	out := make([]model.Route, 0, len(routes))
	for _, r := range routes {
		out = append(out, model.Route{
			Method: r.Method,
			URI:    r.Path,
			Action: handlerName(r.Name),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// handlerName trims the module path from a reflected handler name:
// "github.com/x/app/internal/handler.(*Users).Show-fm" → "handler.(*Users).Show".
func handlerName(name string) string {
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
