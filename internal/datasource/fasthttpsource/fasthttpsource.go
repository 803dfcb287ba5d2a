// Package fasthttpsource resolves request fields from a fasthttp request
// context.
//
// Claimed fields: method, url, uri, headers, getData, postData, requestData,
// cookies, time, responseStatus, responseTime, responseDuration.
package fasthttpsource

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

type DataSource struct {
	ctx       *fasthttp.RequestCtx
	sanitizer *serializer.Sanitizer
	now       func() time.Time
}

func New(ctx *fasthttp.RequestCtx) *DataSource {
	return &DataSource{
		ctx:       ctx,
		sanitizer: serializer.NewSanitizer("authorization", "x-clockwork-auth"),
		now:       time.Now,
	}
}

// SetClock replaces the clock used to sample the response time.
func (d *DataSource) SetClock(now func() time.Time) {
	d.now = now
}

func (d *DataSource) Resolve(_ context.Context, req *model.Request) error {
	ctx := d.ctx
	if ctx == nil {
		return nil
	}

	uri := ctx.URI()
	req.Method = string(ctx.Method())
	req.URI = string(uri.RequestURI())
	scheme := "http"
	if ctx.IsTLS() {
		scheme = "https"
	}
	if proto := ctx.Request.Header.Peek("X-Forwarded-Proto"); len(proto) > 0 {
		scheme = string(proto)
	}
	req.URL = scheme + "://" + string(uri.Host()) + req.URI

	headers := make(map[string]any)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := strings.ToLower(string(k))
		values, _ := headers[key].([]string)
		headers[key] = append(values, string(v))
	})
	req.Headers = d.sanitizer.Sanitize(headers)
	req.GetData = d.sanitizer.Sanitize(argsMap(ctx.QueryArgs()))

	cookies := make(map[string]any)
	ctx.Request.Header.VisitAllCookie(func(k, v []byte) {
		cookies[string(k)] = string(v)
	})
	if len(cookies) > 0 {
		req.Cookies = d.sanitizer.Sanitize(cookies)
	}

	d.resolveBody(req)

	if start := ctx.Time(); !start.IsZero() {
		req.Time = model.Microtime(start)
	}
	if status := ctx.Response.StatusCode(); status != 0 {
		req.ResponseStatus = status
		req.ResponseTime = model.Microtime(d.now())
		req.ResponseDuration = req.ResponseDurationMs()
	}
	return nil
}

func (d *DataSource) resolveBody(req *model.Request) {
	body := d.ctx.PostBody()
	if len(body) == 0 {
		return
	}
	contentType := string(d.ctx.Request.Header.ContentType())
	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		req.PostData = d.sanitizer.Sanitize(argsMap(d.ctx.PostArgs()))
		return
	case strings.HasPrefix(contentType, "multipart/form-data"):
		// PostArgs only parses urlencoded bodies
		if form, err := d.ctx.MultipartForm(); err == nil {
			req.PostData = d.sanitizer.Sanitize(formValues(form.Value))
		}
		return
	case strings.HasPrefix(contentType, "application/json"):
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			req.RequestData = d.sanitizer.SanitizeValue(decoded)
			return
		}
	}
	req.RequestData = serializer.Normalize(body)
}

func (d *DataSource) Extend(context.Context, *model.Request) error { return nil }

func (d *DataSource) Reset() {
	d.ctx = nil
}

func formValues(values map[string][]string) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, vals := range values {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		out[k] = vals
	}
	return out
}

func argsMap(args *fasthttp.Args) map[string]any {
	if args.Len() == 0 {
		return nil
	}
	out := make(map[string]any, args.Len())
	args.VisitAll(func(k, v []byte) {
		key := string(k)
		switch existing := out[key].(type) {
		case nil:
			out[key] = string(v)
		case string:
			out[key] = []string{existing, string(v)}
		case []string:
			out[key] = append(existing, string(v))
		}
	})
	return out
}
