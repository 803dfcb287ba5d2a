package clockwork

import (
	"time"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

var (
	normalize      = serializer.Normalize
	normalizeMap   = serializer.NormalizeMap
	normalizeSlice = serializer.NormalizeSlice
)

// caller captures the trace of the application code that called an Add*
// method.
func caller() ([]serializer.StackFrame, string, int) {
	trace := serializer.CaptureTrace(2, serializer.DefaultTraceLimit)
	file, line := serializer.Caller(trace)
	return trace, file, line
}

// startedAt returns the entry time for something that just finished after
// durationMs.
func (c *Clockwork) startedAt(durationMs float64) float64 {
	return model.Microtime(c.now()) - durationMs/1000
}

// AddDatabaseQuery records an executed query. Empty queries are ignored.
func (c *Clockwork) AddDatabaseQuery(q model.DatabaseQuery) *Clockwork {
	if q.Query == "" {
		return c
	}
	if q.Time == 0 {
		q.Time = c.startedAt(q.Duration)
	}
	if q.Trace == nil {
		q.Trace, q.File, q.Line = fillCaller(q.File, q.Line)
	}
	q.Bindings = normalizeSlice(q.Bindings)
	c.request.DatabaseQueries = append(c.request.DatabaseQueries, q)
	return c
}

// AddCacheQuery records a cache operation. Entries without a type or key
// are ignored.
func (c *Clockwork) AddCacheQuery(q model.CacheQuery) *Clockwork {
	if q.Type == "" || q.Key == "" {
		return c
	}
	if q.Time == 0 {
		q.Time = c.startedAt(q.Duration)
	}
	if q.Trace == nil {
		q.Trace, q.File, q.Line = fillCaller(q.File, q.Line)
	}
	q.Value = normalize(q.Value)
	c.request.CacheQueries = append(c.request.CacheQueries, q)
	return c
}

// AddEvent records a dispatched application event.
func (c *Clockwork) AddEvent(e model.Event) *Clockwork {
	if e.Event == "" {
		return c
	}
	if e.Time == 0 {
		e.Time = c.startedAt(e.Duration)
	}
	if e.Trace == nil {
		e.Trace, e.File, e.Line = fillCaller(e.File, e.Line)
	}
	e.Data = normalize(e.Data)
	c.request.Events = append(c.request.Events, e)
	return c
}

// AddRoute records a registered route.
func (c *Clockwork) AddRoute(r model.Route) *Clockwork {
	if r.URI == "" {
		return c
	}
	c.request.Routes = append(c.request.Routes, r)
	return c
}

// AddEmail records an outgoing email.
func (c *Clockwork) AddEmail(e model.Email) *Clockwork {
	if e.Subject == "" && len(e.To) == 0 {
		return c
	}
	if e.Time == 0 {
		e.Time = c.startedAt(e.Duration)
	}
	if e.Trace == nil {
		e.Trace, e.File, e.Line = fillCaller(e.File, e.Line)
	}
	e.Headers = normalizeMap(e.Headers)
	c.request.Emails = append(c.request.Emails, e)
	return c
}

// AddView records a rendered view.
func (c *Clockwork) AddView(v model.View) *Clockwork {
	if v.Name == "" {
		return c
	}
	if v.Time == 0 {
		v.Time = c.startedAt(v.Duration)
	}
	if v.Trace == nil {
		v.Trace, v.File, v.Line = fillCaller(v.File, v.Line)
	}
	v.Data = normalize(v.Data)
	c.request.Views = append(c.request.Views, v)
	return c
}

// SubrequestTiming optionally places a subrequest on the timeline. Any two
// of Start, End and Duration are enough; Duration alone means it just
// finished.
type SubrequestTiming struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

func (t SubrequestTiming) span(now time.Time) (time.Time, time.Time, bool) {
	switch {
	case !t.Start.IsZero() && !t.End.IsZero():
		return t.Start, t.End, true
	case !t.Start.IsZero() && t.Duration > 0:
		return t.Start, t.Start.Add(t.Duration), true
	case !t.End.IsZero() && t.Duration > 0:
		return t.End.Add(-t.Duration), t.End, true
	case t.Duration > 0:
		return now.Add(-t.Duration), now, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// AddSubrequest links a child request collected under id. When its span can
// be derived from timing, a timeline event is added as well.
func (c *Clockwork) AddSubrequest(url, id, path string, timing SubrequestTiming) *Clockwork {
	if url == "" || id == "" {
		return c
	}
	c.request.Subrequests = append(c.request.Subrequests, model.Subrequest{URL: url, ID: id, Path: path})

	if start, end, ok := timing.span(c.now()); ok {
		c.request.Timeline.Event("Subrequest - "+url, model.EventData{
			Name:  "subrequest-" + id,
			Start: start,
			End:   end,
			Color: "purple",
			Data:  map[string]any{"id": id, "url": url},
		})
	}
	return c
}

// UserData returns the custom tab key of the current request.
func (c *Clockwork) UserData(key string) *model.UserData {
	return c.request.Tab(key)
}

func fillCaller(file string, line int) ([]serializer.StackFrame, string, int) {
	trace, f, l := caller()
	if file != "" {
		return trace, file, line
	}
	return trace, f, l
}
