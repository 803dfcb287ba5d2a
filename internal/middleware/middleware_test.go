package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/policy"
	"github.com/akave-ai/clockwork/internal/storage"
)

func newFileStorage(t *testing.T) *storage.FileStorage {
	t.Helper()
	codec, err := storage.NewCodec("json", false)
	require.NoError(t, err)
	s, err := storage.NewFileStorage(t.TempDir(), codec, 0)
	require.NoError(t, err)
	return s
}

func newEcho(cfg Config) *echo.Echo {
	e := echo.New()
	e.Use(Clockwork(cfg))
	e.GET("/users/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		clockwork.FromContext(ctx).AddDatabaseQuery(model.DatabaseQuery{
			Query:    "SELECT * FROM users WHERE id = $1",
			Bindings: []any{c.Param("id")},
			Duration: 3,
		})
		zerolog.Ctx(ctx).Info().Str("user", c.Param("id")).Msg("loaded user")
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})
	e.GET("/__clockwork/latest", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return e
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestClockwork_CollectsAndStores(t *testing.T) {
	store := newFileStorage(t)
	e := newEcho(Config{Storage: store, APIPath: "/__clockwork", ServerTiming: 10})

	rec := serve(e, http.MethodGet, "/users/42?expand=teams")
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Header().Get(clockwork.HeaderID)
	require.NotEmpty(t, id)
	assert.Equal(t, clockwork.Version, rec.Header().Get(clockwork.HeaderVersion))
	assert.Equal(t, "/__clockwork/", rec.Header().Get(clockwork.HeaderPath))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Server-Timing"), "app;dur="))

	req, err := store.Find(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/users/42?expand=teams", req.URI)
	assert.Equal(t, http.StatusOK, req.ResponseStatus)
	assert.NotEmpty(t, req.Controller)
	assert.Equal(t, map[string]any{"expand": "teams"}, req.GetData)
	assert.GreaterOrEqual(t, req.ResponseTime, req.Time)

	require.Len(t, req.DatabaseQueries, 1)
	assert.Equal(t, 1, req.DatabaseQueriesCount)
	assert.Equal(t, 1, req.DatabaseSelects)

	var messages []string
	for _, m := range req.Log.Entries() {
		messages = append(messages, m.Message)
	}
	assert.Contains(t, messages, "loaded user")

	var names []string
	for _, ev := range req.Timeline.Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "controller")
}

func TestClockwork_HandlerErrorStatus(t *testing.T) {
	store := newFileStorage(t)
	e := newEcho(Config{Storage: store})

	rec := serve(e, http.MethodGet, "/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)

	req, err := store.Find(context.Background(), rec.Header().Get(clockwork.HeaderID))
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, http.StatusNotFound, req.ResponseStatus)

	var levels []model.Level
	for _, m := range req.Log.Entries() {
		levels = append(levels, m.Level)
	}
	assert.Contains(t, levels, model.LevelError)
}

func TestClockwork_SkipsAPIPath(t *testing.T) {
	store := newFileStorage(t)
	e := newEcho(Config{Storage: store, APIPath: "/__clockwork"})

	rec := serve(e, http.MethodGet, "/__clockwork/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(clockwork.HeaderID))

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestClockwork_CollectPolicy(t *testing.T) {
	store := newFileStorage(t)
	collect := policy.NewShouldCollect()
	require.NoError(t, collect.MergeRules(policy.CollectRules{OnDemand: "s3cret"}))
	e := newEcho(Config{Storage: store, ShouldCollect: collect})

	rec := serve(e, http.MethodGet, "/users/1")
	assert.Empty(t, rec.Header().Get(clockwork.HeaderID))

	rec = serve(e, http.MethodGet, "/users/1?"+policy.OnDemandParam+"=s3cret")
	id := rec.Header().Get(clockwork.HeaderID)
	require.NotEmpty(t, id)

	req, err := store.Find(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, req)
}

func TestClockwork_RecordPolicy(t *testing.T) {
	store := newFileStorage(t)
	record := policy.NewShouldRecord().MergeRules(policy.RecordRules{ErrorsOnly: policy.Bool(true)})
	e := newEcho(Config{Storage: store, ShouldRecord: record})

	ok := serve(e, http.MethodGet, "/users/1")
	require.NotEmpty(t, ok.Header().Get(clockwork.HeaderID))
	req, err := store.Find(context.Background(), ok.Header().Get(clockwork.HeaderID))
	require.NoError(t, err)
	assert.Nil(t, req)

	failed := serve(e, http.MethodGet, "/missing")
	req, err = store.Find(context.Background(), failed.Header().Get(clockwork.HeaderID))
	require.NoError(t, err)
	assert.NotNil(t, req)
}

func TestClockwork_Parent(t *testing.T) {
	store := newFileStorage(t)
	e := newEcho(Config{Storage: store})

	r := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	r.Header.Set(clockwork.HeaderParent, "parent-id")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, r)

	req, err := store.Find(context.Background(), rec.Header().Get(clockwork.HeaderID))
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "parent-id", req.Parent)
}

func TestFastHTTP(t *testing.T) {
	store := newFileStorage(t)
	var seen *clockwork.Clockwork
	h := FastHTTP(Config{Storage: store, APIPath: "/__clockwork"}, func(ctx *fasthttp.RequestCtx) {
		seen = FromFastHTTP(ctx)
		LoggerFromFastHTTP(ctx).Warn().Msg("slow upstream")
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	})

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetRequestURI("/jobs?queue=mail")
	ctx.Request.Header.SetHost("api.local")
	h(&ctx)

	require.NotNil(t, seen)
	id := string(ctx.Response.Header.Peek(clockwork.HeaderID))
	require.NotEmpty(t, id)
	assert.Equal(t, "/__clockwork/", string(ctx.Response.Header.Peek(clockwork.HeaderPath)))

	req, err := store.Find(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "POST /jobs", req.Controller)
	assert.Equal(t, fasthttp.StatusAccepted, req.ResponseStatus)
	require.NotEmpty(t, req.Log.Entries())
	assert.Equal(t, model.LevelWarning, req.Log.Entries()[0].Level)
}

// ctxRecordingStorage notes whether Store ran under a context that still
// carried the request's collector.
type ctxRecordingStorage struct {
	*storage.FileStorage
	stores    int
	collector *clockwork.Clockwork
}

func (s *ctxRecordingStorage) Store(ctx context.Context, req *model.Request) error {
	s.stores++
	s.collector = clockwork.FromContext(ctx)
	return s.FileStorage.Store(ctx, req)
}

func TestClockwork_StoresOutsideCollectorContext(t *testing.T) {
	store := &ctxRecordingStorage{FileStorage: newFileStorage(t)}
	e := newEcho(Config{Storage: store})

	rec := serve(e, http.MethodGet, "/users/7")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, store.stores)
	assert.Nil(t, store.collector)

	req, err := store.Find(context.Background(), rec.Header().Get(clockwork.HeaderID))
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Len(t, req.DatabaseQueries, 1)
}

func TestFastHTTP_StoresOutsideCollectorContext(t *testing.T) {
	store := &ctxRecordingStorage{FileStorage: newFileStorage(t)}
	h := FastHTTP(Config{Storage: store}, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/jobs")
	h(&ctx)

	require.Equal(t, 1, store.stores)
	assert.Nil(t, store.collector)
}

func TestFastHTTP_SkipsAPIPath(t *testing.T) {
	called := false
	h := FastHTTP(Config{Storage: newFileStorage(t), APIPath: "/__clockwork"}, func(ctx *fasthttp.RequestCtx) {
		called = true
		assert.Nil(t, FromFastHTTP(ctx))
	})

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/__clockwork/latest")
	h(&ctx)

	assert.True(t, called)
	assert.Empty(t, ctx.Response.Header.Peek(clockwork.HeaderID))
}

func TestServerTiming(t *testing.T) {
	start := time.Unix(1700000000, 0)
	tl := model.NewTimeline()
	tl.Event("Controller", model.EventData{Name: "controller", Start: start, End: start.Add(12 * time.Millisecond)})
	tl.Event("Render users", model.EventData{Name: "view users", Start: start.Add(2 * time.Millisecond), End: start.Add(5 * time.Millisecond)})

	assert.Equal(t,
		`app;dur=20.000, controller;dur=12.000;desc="Controller", view-users;dur=3.000;desc="Render users"`,
		ServerTiming(20*time.Millisecond, tl, -1))
	assert.Equal(t,
		`app;dur=20.000, controller;dur=12.000;desc="Controller"`,
		ServerTiming(20*time.Millisecond, tl, 1))
	assert.Equal(t, "app;dur=1.500", ServerTiming(1500*time.Microsecond, nil, 5))
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "db.query", metricName("db.query", 0))
	assert.Equal(t, "a-b", metricName("a b", 0))
	assert.Equal(t, "event-3", metricName("", 3))
}
