// Package httpsource resolves request fields from a net/http message pair.
//
// Claimed fields: method, url, uri, headers, getData, postData, requestData,
// cookies, time (when the environment provides it), responseStatus,
// responseTime, responseDuration.
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

// MaxBody is the number of request body bytes captured for inspection.
const MaxBody = 1 << 20

// RequestStartHeader is set by proxies (nginx, Heroku) to the time the
// request entered the stack.
const RequestStartHeader = "X-Request-Start"

type startTimeKey struct{}

// WithStartTime records a high-resolution start time for the request.
func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey{}, t)
}

// DataSource extracts fields from one HTTP request and its response.
type DataSource struct {
	request *http.Request
	body    []byte

	status int

	sanitizer *serializer.Sanitizer
	now       func() time.Time
}

// New captures r for later resolution. Up to MaxBody bytes of the body are
// read and r.Body is replaced so the handler still sees the whole stream.
func New(r *http.Request) *DataSource {
	d := &DataSource{
		request:   r,
		sanitizer: serializer.NewSanitizer("authorization", "x-clockwork-auth"),
		now:       time.Now,
	}
	if r != nil && r.Body != nil && r.Body != http.NoBody {
		buf, _ := io.ReadAll(io.LimitReader(r.Body, MaxBody))
		d.body = buf
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	}
	return d
}

// SetResponse records the response side of the exchange.
func (d *DataSource) SetResponse(status int) {
	d.status = status
}

// SetClock replaces the clock used to sample the response time.
func (d *DataSource) SetClock(now func() time.Time) {
	d.now = now
}

func (d *DataSource) Resolve(_ context.Context, req *model.Request) error {
	r := d.request
	if r == nil {
		return nil
	}

	req.Method = r.Method
	req.URI = NormalizeURI(r.URL)
	req.URL = fullURL(r)
	req.Headers = d.sanitizer.Sanitize(headerMap(r.Header))
	req.GetData = d.sanitizer.Sanitize(valuesMap(r.URL.Query()))
	req.Cookies = d.sanitizer.Sanitize(cookieMap(r.Cookies()))
	d.resolveBody(req)

	if start, ok := StartTime(r); ok {
		req.Time = model.Microtime(start)
	}

	if d.status != 0 {
		req.ResponseStatus = d.status
		req.ResponseTime = model.Microtime(d.now())
		req.ResponseDuration = req.ResponseDurationMs()
	}
	return nil
}

func (d *DataSource) Extend(context.Context, *model.Request) error { return nil }

// Reset forgets the captured exchange.
func (d *DataSource) Reset() {
	d.request = nil
	d.body = nil
	d.status = 0
}

func (d *DataSource) resolveBody(req *model.Request) {
	if len(d.body) == 0 {
		return
	}
	mediaType, _, _ := mime.ParseMediaType(d.request.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(d.body)); err == nil {
			req.PostData = d.sanitizer.Sanitize(valuesMap(form))
			return
		}
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var decoded any
		if err := json.Unmarshal(d.body, &decoded); err == nil {
			req.RequestData = d.sanitizer.SanitizeValue(decoded)
			return
		}
	}
	req.RequestData = serializer.Normalize(d.body)
}

// StartTime returns when the request started: the high-resolution time
// recorded by WithStartTime, else the X-Request-Start header. ok is false
// when neither is available.
func StartTime(r *http.Request) (time.Time, bool) {
	if t, ok := r.Context().Value(startTimeKey{}).(time.Time); ok && !t.IsZero() {
		return t, true
	}
	return parseRequestStart(r.Header.Get(RequestStartHeader))
}

// parseRequestStart accepts "t=1700000000.123", fractional seconds, or an
// integer in seconds, milliseconds or microseconds.
func parseRequestStart(v string) (time.Time, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "t=")
	if v == "" {
		return time.Time{}, false
	}
	if strings.Contains(v, ".") {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return time.Time{}, false
		}
		return model.FromMicrotime(f), true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch {
	case n > 1e14:
		return time.UnixMicro(n), true
	case n > 1e11:
		return time.UnixMilli(n), true
	default:
		return time.Unix(n, 0), true
	}
}

// NormalizeURI returns the cleaned path plus the raw query.
func NormalizeURI(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	if u.RawQuery != "" {
		cleaned += "?" + u.RawQuery
	}
	return cleaned
}

func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + NormalizeURI(r.URL)
}

// headerMap lower-cases header names. Key order in the serialized record
// is sorted by the JSON encoder.
func headerMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = values
	}
	return out
}

func valuesMap(v url.Values) map[string]any {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, vals := range v {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		out[k] = vals
	}
	return out
}

func cookieMap(cookies []*http.Cookie) map[string]any {
	if len(cookies) == 0 {
		return nil
	}
	out := make(map[string]any, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}
