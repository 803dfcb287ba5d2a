// Package clockwork collects diagnostics about one unit of work (HTTP
// request, command, queue job or test) and hands the resolved record to a
// storage backend.
//
// A Clockwork models exactly one in-flight unit of work and is not safe for
// concurrent use. Build one per request, or call Reset between units in
// long-lived workers.
package clockwork

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/auth"
	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/policy"
	"github.com/akave-ai/clockwork/internal/storage"
)

// State is the lifecycle position of the current request.
type State int

const (
	StateIdle State = iota
	StateResolved
	StateStored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolved:
		return "resolved"
	case StateStored:
		return "stored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clockwork owns the current request, the collector log, the registered
// data sources and the storage/authenticator collaborators.
type Clockwork struct {
	request       *model.Request
	log           *model.Log
	dataSources   []datasource.DataSource
	storage       storage.Storage
	authenticator auth.Authenticator
	shouldCollect *policy.ShouldCollect
	shouldRecord  *policy.ShouldRecord
	state         State

	now           func() time.Time
	slowThreshold float64
	logger        zerolog.Logger
}

// Option configures a Clockwork.
type Option func(*Clockwork)

// WithStorage sets the backend StoreRequest writes to.
func WithStorage(s storage.Storage) Option {
	return func(c *Clockwork) { c.storage = s }
}

// WithAuthenticator sets the authenticator guarding the metadata API.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *Clockwork) { c.authenticator = a }
}

// WithDataSources registers sources in order.
func WithDataSources(sources ...datasource.DataSource) Option {
	return func(c *Clockwork) { c.dataSources = append(c.dataSources, sources...) }
}

// WithShouldCollect shares a collect policy between instances.
func WithShouldCollect(p *policy.ShouldCollect) Option {
	return func(c *Clockwork) { c.shouldCollect = p }
}

// WithShouldRecord shares a record policy between instances.
func WithShouldRecord(p *policy.ShouldRecord) Option {
	return func(c *Clockwork) { c.shouldRecord = p }
}

// WithClock replaces the wall clock for new requests, logs and timelines.
func WithClock(now func() time.Time) Option {
	return func(c *Clockwork) { c.now = now }
}

// WithSlowThreshold tags database queries slower than ms as slow.
func WithSlowThreshold(ms float64) Option {
	return func(c *Clockwork) { c.slowThreshold = ms }
}

// WithLogger sets the logger used for the collector's own diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Clockwork) { c.logger = l }
}

// New returns an idle Clockwork with an empty request.
func New(opts ...Option) *Clockwork {
	c := &Clockwork{
		authenticator: auth.NullAuthenticator{},
		now:           time.Now,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shouldCollect == nil {
		c.shouldCollect = policy.NewShouldCollect()
	}
	if c.shouldRecord == nil {
		c.shouldRecord = policy.NewShouldRecord()
	}
	c.request = c.newRequest()
	c.log = c.newLog()
	return c
}

func (c *Clockwork) newRequest() *model.Request {
	req := model.NewRequest(c.now())
	req.Log.SetClock(c.now)
	req.Timeline.SetClock(c.now)
	return req
}

func (c *Clockwork) newLog() *model.Log {
	l := model.NewLog()
	l.SetClock(c.now)
	return l
}

// Request returns the current request.
func (c *Clockwork) Request() *model.Request {
	return c.request
}

// SetRequest replaces the current request and returns to the idle state.
func (c *Clockwork) SetRequest(req *model.Request) *Clockwork {
	if req.Log == nil {
		req.Log = c.newLog()
	}
	if req.Timeline == nil {
		req.Timeline = model.NewTimeline()
		req.Timeline.SetClock(c.now)
	}
	c.request = req
	c.state = StateIdle
	return c
}

// Log returns the collector log, merged into the request on resolve.
func (c *Clockwork) Log() *model.Log {
	return c.log
}

// Timeline returns the current request's timeline.
func (c *Clockwork) Timeline() *model.Timeline {
	return c.request.Timeline
}

// Event opens a timeline event on the current request.
func (c *Clockwork) Event(description string, data model.EventData) *model.TimelineEvent {
	return c.request.Timeline.Event(description, data)
}

// AddDataSource registers a source after the existing ones.
func (c *Clockwork) AddDataSource(ds datasource.DataSource) *Clockwork {
	c.dataSources = append(c.dataSources, ds)
	return c
}

// DataSources returns the registered sources in registration order.
func (c *Clockwork) DataSources() []datasource.DataSource {
	out := make([]datasource.DataSource, len(c.dataSources))
	copy(out, c.dataSources)
	return out
}

// Storage returns the configured backend, or nil.
func (c *Clockwork) Storage() storage.Storage {
	return c.storage
}

// SetStorage replaces the backend.
func (c *Clockwork) SetStorage(s storage.Storage) *Clockwork {
	c.storage = s
	return c
}

// Authenticator returns the configured authenticator.
func (c *Clockwork) Authenticator() auth.Authenticator {
	return c.authenticator
}

// SetAuthenticator replaces the authenticator.
func (c *Clockwork) SetAuthenticator(a auth.Authenticator) *Clockwork {
	c.authenticator = a
	return c
}

// ShouldCollect returns the collect policy for direct evaluation or tuning.
func (c *Clockwork) ShouldCollect() *policy.ShouldCollect {
	return c.shouldCollect
}

// ShouldRecord returns the record policy for direct evaluation or tuning.
func (c *Clockwork) ShouldRecord() *policy.ShouldRecord {
	return c.shouldRecord
}

// State returns the lifecycle state of the current request.
func (c *Clockwork) State() State {
	return c.state
}

// ResolveRequest runs every data source in registration order, merges the
// collector log into the request log, orders it by time, recomputes the
// derived counters and closes open timeline events at the request time.
// The first data source error aborts resolution and is returned.
func (c *Clockwork) ResolveRequest(ctx context.Context) error {
	for i, ds := range c.dataSources {
		if err := ds.Resolve(ctx, c.request); err != nil {
			return fmt.Errorf("resolve data source %d (%T): %w", i, ds, err)
		}
	}

	if c.request.Log == nil {
		c.request.Log = c.newLog()
	}
	c.request.Log.Append(c.log.Entries()...)
	c.log = c.newLog()
	c.request.Log.SortByTime()

	c.request.Summarize(c.slowThreshold)
	c.request.Timeline.Finalize(c.request.StartTime())

	c.state = StateResolved
	c.logger.Debug().
		Str("request_id", c.request.ID).
		Str("type", string(c.request.Type)).
		Int("log_entries", c.request.Log.Len()).
		Int("timeline_events", c.request.Timeline.Len()).
		Msg("request resolved")
	return nil
}

// ResolveAsCommand resolves the request and marks it as a console command.
func (c *Clockwork) ResolveAsCommand(ctx context.Context, cmd model.CommandData) error {
	if err := c.ResolveRequest(ctx); err != nil {
		return err
	}
	cmd.CommandArguments = normalizeMap(cmd.CommandArguments)
	cmd.CommandArgumentsDefaults = normalizeMap(cmd.CommandArgumentsDefaults)
	cmd.CommandOptions = normalizeMap(cmd.CommandOptions)
	cmd.CommandOptionsDefaults = normalizeMap(cmd.CommandOptionsDefaults)
	c.request.SetCommand(cmd)
	return nil
}

// ResolveAsQueueJob resolves the request and marks it as a queue job.
func (c *Clockwork) ResolveAsQueueJob(ctx context.Context, job model.QueueJobData) error {
	if err := c.ResolveRequest(ctx); err != nil {
		return err
	}
	if job.JobStatus == "" {
		job.JobStatus = model.JobDone
	}
	job.JobPayload = normalize(job.JobPayload)
	job.JobOptions = normalizeMap(job.JobOptions)
	c.request.SetQueueJob(job)
	return nil
}

// ResolveAsTest resolves the request and marks it as a test run.
func (c *Clockwork) ResolveAsTest(ctx context.Context, name, status, message string, asserts []model.TestAssert) error {
	if err := c.ResolveRequest(ctx); err != nil {
		return err
	}
	normalized := make([]model.TestAssert, len(asserts))
	for i, a := range asserts {
		a.Arguments = normalizeSlice(a.Arguments)
		normalized[i] = a
	}
	c.request.SetTest(model.TestData{
		TestName:          name,
		TestStatus:        status,
		TestStatusMessage: message,
		TestAsserts:       normalized,
	})
	return nil
}

// ExtendRequest lets every data source enrich req, typically a record
// loaded back from storage. A nil req extends the current request.
func (c *Clockwork) ExtendRequest(ctx context.Context, req *model.Request) (*model.Request, error) {
	if req == nil {
		req = c.request
	}
	for i, ds := range c.dataSources {
		if err := ds.Extend(ctx, req); err != nil {
			return nil, fmt.Errorf("extend data source %d (%T): %w", i, ds, err)
		}
	}
	return req, nil
}

// StoreRequest persists the current request. Without a storage backend it
// does nothing.
func (c *Clockwork) StoreRequest(ctx context.Context) error {
	if c.storage == nil {
		return nil
	}
	if err := c.storage.Store(ctx, c.request); err != nil {
		return fmt.Errorf("store request %s: %w", c.request.ID, err)
	}
	c.state = StateStored
	c.logger.Debug().Str("request_id", c.request.ID).Msg("request stored")
	return nil
}

// Reset clears every data source and starts a fresh request and log.
func (c *Clockwork) Reset() {
	for _, ds := range c.dataSources {
		ds.Reset()
	}
	c.request = c.newRequest()
	c.log = c.newLog()
	c.state = StateIdle
}
