package fasthttpsource

import (
	"bytes"
	"context"
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

func newCtx(method, uri, contentType, body string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	ctx.Request.Header.SetHost("api.local")
	if contentType != "" {
		ctx.Request.Header.SetContentType(contentType)
	}
	if body != "" {
		ctx.Request.SetBodyString(body)
	}
	return &ctx
}

func TestResolve_JSON(t *testing.T) {
	ctx := newCtx("POST", "/users?tag=a&tag=b", "application/json", `{"name":"ada","password":"pw"}`)
	ctx.Request.Header.Set("Authorization", "Bearer x")
	ctx.Request.Header.SetCookie("session", "s1")
	ctx.SetStatusCode(fasthttp.StatusCreated)

	req := model.NewRequest(time.Now())
	require.NoError(t, New(ctx).Resolve(context.Background(), req))

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/users?tag=a&tag=b", req.URI)
	assert.Equal(t, "http://api.local/users?tag=a&tag=b", req.URL)
	assert.Equal(t, serializer.Redacted, req.Headers["authorization"])
	assert.Equal(t, map[string]any{"tag": []any{"a", "b"}}, req.GetData)
	assert.Equal(t, map[string]any{"session": "s1"}, req.Cookies)
	assert.Equal(t, map[string]any{"name": "ada", "password": serializer.Redacted}, req.RequestData)
	assert.Equal(t, fasthttp.StatusCreated, req.ResponseStatus)
}

func TestResolve_Form(t *testing.T) {
	ctx := newCtx("POST", "/login", "application/x-www-form-urlencoded", "email=a%40example.com&password=pw")

	req := model.NewRequest(time.Now())
	require.NoError(t, New(ctx).Resolve(context.Background(), req))
	assert.Equal(t, map[string]any{"email": "a@example.com", "password": serializer.Redacted}, req.PostData)
}

func TestResolve_RepeatedHeaders(t *testing.T) {
	ctx := newCtx("GET", "/", "", "")
	ctx.Request.Header.Add("X-Tag", "a")
	ctx.Request.Header.Add("X-Tag", "b")

	req := model.NewRequest(time.Now())
	require.NoError(t, New(ctx).Resolve(context.Background(), req))
	assert.Equal(t, []any{"a", "b"}, req.Headers["x-tag"])
	assert.Equal(t, []any{"api.local"}, req.Headers["host"])
}

func TestResolve_Multipart(t *testing.T) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("title", "report"))
	require.NoError(t, w.WriteField("tag", "q1"))
	require.NoError(t, w.WriteField("tag", "q2"))
	require.NoError(t, w.WriteField("password", "pw"))
	require.NoError(t, w.Close())

	ctx := newCtx("POST", "/upload", w.FormDataContentType(), body.String())

	req := model.NewRequest(time.Now())
	require.NoError(t, New(ctx).Resolve(context.Background(), req))
	assert.Equal(t, map[string]any{
		"title":    "report",
		"tag":      []any{"q1", "q2"},
		"password": serializer.Redacted,
	}, req.PostData)
	assert.Nil(t, req.RequestData)
}

func TestReset(t *testing.T) {
	ds := New(newCtx("GET", "/", "", ""))
	ds.Reset()
	req := model.NewRequest(time.Now())
	require.NoError(t, ds.Resolve(context.Background(), req))
	assert.Empty(t, req.Method)
}
