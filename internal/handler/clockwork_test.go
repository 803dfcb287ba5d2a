package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/akave-ai/clockwork/internal/auth"
	"github.com/akave-ai/clockwork/internal/clockwork"
	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/storage"
)

type fixture struct {
	e     *echo.Echo
	store *storage.FileStorage
	ids   []string
}

func newFixture(t *testing.T, a auth.Authenticator, records int) *fixture {
	t.Helper()
	codec, err := storage.NewCodec("json", false)
	require.NoError(t, err)
	store, err := storage.NewFileStorage(t.TempDir(), codec, 0)
	require.NoError(t, err)

	f := &fixture{e: echo.New(), store: store}
	base := time.Unix(1700000000, 0)
	for i := 0; i < records; i++ {
		req := model.NewRequest(base.Add(time.Duration(i) * time.Second))
		req.Method = http.MethodGet
		req.URI = "/orders"
		require.NoError(t, store.Store(context.Background(), req))
		f.ids = append(f.ids, req.ID)
	}

	h := &ClockworkHandler{Storage: store, Authenticator: a}
	h.Register(f.e.Group("/__clockwork"))
	return f
}

func (f *fixture) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		r.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, r)
	return rec
}

func decodeRequests(t *testing.T, rec *httptest.ResponseRecorder) []*model.Request {
	t.Helper()
	var out []*model.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func requestIDs(reqs []*model.Request) []string {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	return ids
}

func TestShowAndLatest(t *testing.T) {
	f := newFixture(t, nil, 3)

	rec := f.do(http.MethodGet, "/__clockwork/"+f.ids[1], "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, f.ids[1], got.ID)
	assert.Equal(t, "/orders", got.URI)

	rec = f.do(http.MethodGet, "/__clockwork/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, f.ids[2], got.ID)

	rec = f.do(http.MethodGet, "/__clockwork/01900000-0000-7000-8000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatest_Empty(t *testing.T) {
	f := newFixture(t, nil, 0)
	rec := f.do(http.MethodGet, "/__clockwork/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtended(t *testing.T) {
	f := newFixture(t, nil, 1)
	rec := f.do(http.MethodGet, "/__clockwork/"+f.ids[0]+"/extended", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), f.ids[0])
}

func TestNextAndPrevious(t *testing.T) {
	f := newFixture(t, nil, 5)

	rec := f.do(http.MethodGet, "/__clockwork/"+f.ids[1]+"/next/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.ids[2:4], requestIDs(decodeRequests(t, rec)))

	rec = f.do(http.MethodGet, "/__clockwork/"+f.ids[3]+"/previous/10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.ids[:3], requestIDs(decodeRequests(t, rec)))

	rec = f.do(http.MethodGet, "/__clockwork/"+f.ids[4]+"/next/3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = f.do(http.MethodGet, "/__clockwork/"+f.ids[0]+"/next/zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, nil, 1)
	id := f.ids[0]
	stored, err := f.store.Find(context.Background(), id)
	require.NoError(t, err)

	rec := f.do(http.MethodPut, "/__clockwork/"+id, `{"token":"wrong","clientMetrics":{"ttfb":12}}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body := `{"token":"` + stored.UpdateToken + `","clientMetrics":{"ttfb":12},"webVitals":{"lcp":840}}`
	rec = f.do(http.MethodPut, "/__clockwork/"+id, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := f.store.Find(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ttfb": float64(12)}, updated.ClientMetrics)
	assert.Equal(t, map[string]any{"lcp": float64(840)}, updated.WebVitals)
}

func TestAuthentication(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	a, err := auth.NewSimple(hash, "signing-key", time.Hour, auth.WithAttemptLimit(rate.Every(time.Hour), 2))
	require.NoError(t, err)
	f := newFixture(t, a, 1)

	rec := f.do(http.MethodGet, "/__clockwork/latest", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var denied struct {
		Requires []string `json:"requires"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	assert.Equal(t, []string{"password"}, denied.Requires)

	rec = f.do(http.MethodPost, "/__clockwork/auth", `{"password":"nope"}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/__clockwork/auth", `{"password":"hunter2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var granted struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &granted))
	require.NotEmpty(t, granted.Token)

	rec = f.do(http.MethodGet, "/__clockwork/latest", "", http.Header{clockwork.HeaderAuth: {granted.Token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/__clockwork/auth", `{"password":"hunter2"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
