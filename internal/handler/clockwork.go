package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/auth"
	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/response"
	"github.com/akave-ai/clockwork/internal/serializer"
	"github.com/akave-ai/clockwork/internal/storage"
)

// MaxCount caps the number of records returned by the next and previous
// endpoints.
const MaxCount = 100

// ClockworkHandler serves stored requests to clients under the API path.
// It depends on echo only through echo.Context.
type ClockworkHandler struct {
	Storage       storage.Storage
	Authenticator auth.Authenticator
	// Registry and DataSources name the sources that extend stored records
	// on the extended endpoint.
	Registry    *datasource.Registry
	DataSources []string
	Logger      zerolog.Logger
}

type authRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type updateRequest struct {
	Token         string         `json:"token"`
	ClientMetrics map[string]any `json:"clientMetrics"`
	WebVitals     map[string]any `json:"webVitals"`
}

// Register mounts the API on g. Everything but POST /auth goes through
// RequireAuth.
func (h *ClockworkHandler) Register(g *echo.Group) {
	g.POST("/auth", h.Authenticate)

	api := g.Group("", h.RequireAuth)
	api.GET("/datasources", h.ListDataSources)
	api.GET("/latest", h.Latest)
	api.GET("/:id", h.Show)
	api.GET("/:id/extended", h.Extended)
	api.GET("/:id/next/:count", h.Next)
	api.GET("/:id/previous/:count", h.Previous)
	api.PUT("/:id", h.Update)
}

func (h *ClockworkHandler) authenticator() auth.Authenticator {
	if h.Authenticator == nil {
		return auth.NullAuthenticator{}
	}
	return h.Authenticator
}

// RequireAuth rejects requests whose X-Clockwork-Auth token the
// authenticator does not accept.
func (h *ClockworkHandler) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		a := h.authenticator()
		if !a.Authenticate(c.Request().Context(), c.Request().Header.Get(clockwork.HeaderAuth)) {
			return response.Forbidden(c, "authentication required", a.Requires())
		}
		return next(c)
	}
}

// Authenticate exchanges credentials for a token (POST /auth).
func (h *ClockworkHandler) Authenticate(c echo.Context) error {
	var body authRequest
	if err := c.Bind(&body); err != nil {
		return response.BadRequest(c, "invalid credentials body", err.Error())
	}
	token, err := h.authenticator().Attempt(c.Request().Context(), map[string]string{
		"username": body.Username,
		"password": body.Password,
	})
	switch {
	case errors.Is(err, auth.ErrTooManyAttempts):
		return response.TooManyRequests(c, "too many attempts", err.Error())
	case err != nil:
		h.Logger.Info().Str("remote_ip", c.RealIP()).Msg("clockwork: failed authentication attempt")
		return response.Forbidden(c, "invalid credentials", h.authenticator().Requires())
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// ListDataSources returns the registered data source names and
// descriptions (GET /datasources).
func (h *ClockworkHandler) ListDataSources(c echo.Context) error {
	reg := h.Registry
	if reg == nil {
		reg = datasource.GlobalRegistry
	}
	return response.OK(c, map[string]any{
		"registered": reg.Describe(),
		"enabled":    h.DataSources,
	}, "")
}

// Latest returns the most recent record (GET /latest).
func (h *ClockworkHandler) Latest(c echo.Context) error {
	req, err := h.Storage.Latest(c.Request().Context())
	if err != nil {
		return h.storageError(c, err)
	}
	if req == nil {
		return response.NotFound(c, "no requests recorded", "storage is empty")
	}
	return c.JSON(http.StatusOK, req)
}

// Show returns one record (GET /:id).
func (h *ClockworkHandler) Show(c echo.Context) error {
	req, err := h.find(c)
	if err != nil || req == nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

// Extended returns one record after every configured data source had a
// chance to extend it (GET /:id/extended).
func (h *ClockworkHandler) Extended(c echo.Context) error {
	req, err := h.find(c)
	if err != nil || req == nil {
		return err
	}
	reg := h.Registry
	if reg == nil {
		reg = datasource.GlobalRegistry
	}
	sources, err := reg.CreateAll(h.DataSources, nil)
	if err != nil {
		return response.InternalError(c, "create data sources failed", err.Error())
	}
	cw := clockwork.New(clockwork.WithDataSources(sources...), clockwork.WithLogger(h.Logger))
	extended, err := cw.ExtendRequest(c.Request().Context(), req)
	if err != nil {
		return response.InternalError(c, "extend request failed", err.Error())
	}
	return c.JSON(http.StatusOK, extended)
}

// Next returns up to count records newer than id, oldest first
// (GET /:id/next/:count).
func (h *ClockworkHandler) Next(c echo.Context) error {
	return h.around(c, h.Storage.Next)
}

// Previous returns up to count records older than id, oldest first
// (GET /:id/previous/:count).
func (h *ClockworkHandler) Previous(c echo.Context) error {
	return h.around(c, h.Storage.Previous)
}

func (h *ClockworkHandler) around(c echo.Context, list func(ctx context.Context, id string, count int) ([]*model.Request, error)) error {
	count, err := strconv.Atoi(c.Param("count"))
	if err != nil || count <= 0 {
		return response.BadRequest(c, "invalid count", "count must be a positive integer")
	}
	if count > MaxCount {
		count = MaxCount
	}
	reqs, err := list(c.Request().Context(), c.Param("id"), count)
	if err != nil {
		return h.storageError(c, err)
	}
	if reqs == nil {
		reqs = []*model.Request{}
	}
	return c.JSON(http.StatusOK, reqs)
}

// Update stores client-side metrics for a record. The body must carry the
// record's update token (PUT /:id).
func (h *ClockworkHandler) Update(c echo.Context) error {
	var body updateRequest
	if err := c.Bind(&body); err != nil {
		return response.BadRequest(c, "invalid update body", err.Error())
	}
	req, err := h.find(c)
	if err != nil || req == nil {
		return err
	}
	if req.UpdateToken == "" || body.Token != req.UpdateToken {
		return response.Error(c, http.StatusForbidden, "invalid update token", "token does not match")
	}

	if body.ClientMetrics != nil {
		req.ClientMetrics = serializer.Sanitize(body.ClientMetrics)
	}
	if body.WebVitals != nil {
		req.WebVitals = serializer.Sanitize(body.WebVitals)
	}
	if err := h.Storage.Update(c.Request().Context(), req); err != nil {
		return h.storageError(c, err)
	}
	return response.OK(c, map[string]string{"id": req.ID}, "updated")
}

// find loads the record named by the id path param. On a miss it writes the
// response itself and returns (nil, nil).
func (h *ClockworkHandler) find(c echo.Context) (*model.Request, error) {
	id := c.Param("id")
	req, err := h.Storage.Find(c.Request().Context(), id)
	if err != nil {
		return nil, h.storageError(c, err)
	}
	if req == nil {
		return nil, response.NotFound(c, "request not found", "no request with id "+id)
	}
	return req, nil
}

func (h *ClockworkHandler) storageError(c echo.Context, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return response.NotFound(c, "request not found", err.Error())
	}
	h.Logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("clockwork: storage")
	return response.InternalError(c, "storage error", err.Error())
}
