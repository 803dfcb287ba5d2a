package model

import "github.com/akave-ai/clockwork/internal/serializer"

// DatabaseQuery is an executed database statement. Duration is milliseconds.
type DatabaseQuery struct {
	Query      string                  `json:"query"`
	Bindings   []any                   `json:"bindings,omitempty"`
	Duration   float64                 `json:"duration"`
	Connection string                  `json:"connection,omitempty"`
	Model      string                  `json:"model,omitempty"`
	Tags       []string                `json:"tags,omitempty"`
	Time       float64                 `json:"time"`
	File       string                  `json:"file,omitempty"`
	Line       int                     `json:"line,omitempty"`
	Trace      []serializer.StackFrame `json:"trace,omitempty"`
}

// Cache operation types.
const (
	CacheRead   = "read"
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheWrite  = "write"
	CacheDelete = "delete"
)

// CacheQuery is a single cache operation. Expiration is seconds.
type CacheQuery struct {
	Type       string                  `json:"type"`
	Key        string                  `json:"key"`
	Value      any                     `json:"value,omitempty"`
	Duration   float64                 `json:"duration,omitempty"`
	Expiration int                     `json:"expiration,omitempty"`
	Connection string                  `json:"connection,omitempty"`
	Time       float64                 `json:"time"`
	File       string                  `json:"file,omitempty"`
	Line       int                     `json:"line,omitempty"`
	Trace      []serializer.StackFrame `json:"trace,omitempty"`
}

// Event is an application event that was dispatched.
type Event struct {
	Event     string                  `json:"event"`
	Data      any                     `json:"data,omitempty"`
	Listeners []string                `json:"listeners,omitempty"`
	Time      float64                 `json:"time"`
	Duration  float64                 `json:"duration,omitempty"`
	File      string                  `json:"file,omitempty"`
	Line      int                     `json:"line,omitempty"`
	Trace     []serializer.StackFrame `json:"trace,omitempty"`
}

// Route is one registered application route.
type Route struct {
	Method     string   `json:"method"`
	URI        string   `json:"uri"`
	Action     string   `json:"action,omitempty"`
	Name       string   `json:"name,omitempty"`
	Middleware []string `json:"middleware,omitempty"`
}

// Email is an outgoing message.
type Email struct {
	Subject  string                  `json:"subject"`
	To       []string                `json:"to"`
	From     string                  `json:"from,omitempty"`
	Headers  map[string]any          `json:"headers,omitempty"`
	Time     float64                 `json:"time"`
	Duration float64                 `json:"duration,omitempty"`
	File     string                  `json:"file,omitempty"`
	Line     int                     `json:"line,omitempty"`
	Trace    []serializer.StackFrame `json:"trace,omitempty"`
}

// View is a rendered template.
type View struct {
	Name     string                  `json:"name"`
	Data     any                     `json:"data,omitempty"`
	Time     float64                 `json:"time"`
	Duration float64                 `json:"duration,omitempty"`
	File     string                  `json:"file,omitempty"`
	Line     int                     `json:"line,omitempty"`
	Trace    []serializer.StackFrame `json:"trace,omitempty"`
}

// Subrequest links this request to a child request collected elsewhere.
type Subrequest struct {
	URL  string `json:"url"`
	ID   string `json:"id"`
	Path string `json:"path,omitempty"`
}

// TestAssert is one assertion executed by a test.
type TestAssert struct {
	Name      string                  `json:"name"`
	Arguments []any                   `json:"arguments"`
	Passed    bool                    `json:"passed"`
	Trace     []serializer.StackFrame `json:"trace"`
}
