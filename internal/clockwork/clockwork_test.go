package clockwork

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func tickingClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

type memoryStorage struct {
	stored []*model.Request
	err    error
}

func (m *memoryStorage) Store(_ context.Context, req *model.Request) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, req)
	return nil
}

func (m *memoryStorage) Update(context.Context, *model.Request) error { return nil }

func (m *memoryStorage) Find(_ context.Context, id string) (*model.Request, error) {
	for _, r := range m.stored {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memoryStorage) Latest(context.Context) (*model.Request, error) { return nil, nil }

func (m *memoryStorage) Previous(context.Context, string, int) ([]*model.Request, error) {
	return nil, nil
}

func (m *memoryStorage) Next(context.Context, string, int) ([]*model.Request, error) {
	return nil, nil
}

type resettable struct {
	datasource.Base
	resets int
}

func (r *resettable) Resolve(context.Context, *model.Request) error { return nil }
func (r *resettable) Reset()                                        { r.resets++ }

func TestResolveRequest_MergesAndStableSortsLog(t *testing.T) {
	base := time.Unix(1700000000, 0)
	cw := New(WithClock(fixedClock(base)))

	// A data source contributes entries at the same instant as collector entries.
	cw.AddDataSource(datasource.Func(func(_ context.Context, req *model.Request) error {
		req.Log.Append(
			model.LogMessage{Level: model.LevelInfo, Message: "source-late", Time: model.Microtime(base) + 2},
			model.LogMessage{Level: model.LevelInfo, Message: "source-tie", Time: model.Microtime(base) + 1},
		)
		return nil
	}))
	cw.Log().Append(
		model.LogMessage{Level: model.LevelDebug, Message: "collector-tie", Time: model.Microtime(base) + 1},
		model.LogMessage{Level: model.LevelDebug, Message: "collector-early", Time: model.Microtime(base)},
	)

	require.NoError(t, cw.ResolveRequest(context.Background()))

	var got []string
	entries := cw.Request().Log.Entries()
	for i, e := range entries {
		got = append(got, e.Message)
		if i > 0 {
			assert.LessOrEqual(t, entries[i-1].Time, e.Time)
		}
	}
	assert.Equal(t, []string{"collector-early", "source-tie", "collector-tie", "source-late"}, got)
	assert.Equal(t, StateResolved, cw.State())
	assert.Zero(t, cw.Log().Len(), "collector log is drained into the request")
}

func TestResolveRequest_FinalizesTimelineAtRequestTime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	cw := New(WithClock(tickingClock(base, time.Second)))

	open := cw.Event("open", model.EventData{Start: base.Add(-time.Second)})
	closed := cw.Event("closed", model.EventData{Start: base, End: base.Add(3 * time.Second)})

	require.NoError(t, cw.ResolveRequest(context.Background()))

	assert.InDelta(t, cw.Request().Time, open.End, 1e-6)
	assert.Equal(t, model.Microtime(base.Add(3*time.Second)), closed.End)
	for _, e := range cw.Timeline().Events() {
		assert.False(t, e.IsRunning())
		assert.GreaterOrEqual(t, e.End, e.Start)
	}
}

func TestResolveAsTest(t *testing.T) {
	cw := New()
	asserts := []model.TestAssert{{Name: "eq", Arguments: []any{1, 1}, Passed: true, Trace: []serializer.StackFrame{}}}

	require.NoError(t, cw.ResolveAsTest(context.Background(), "TestLogin", "failed", "msg", asserts))

	req := cw.Request()
	assert.Equal(t, model.RequestTypeTest, req.Type)
	require.NotNil(t, req.TestData)
	assert.Equal(t, "TestLogin", req.TestName)
	assert.Equal(t, "failed", req.TestStatus)
	assert.Equal(t, "msg", req.TestStatusMessage)
	require.Len(t, req.TestAsserts, 1)
	assert.Equal(t, "eq", req.TestAsserts[0].Name)
	assert.Equal(t, []any{int64(1), int64(1)}, req.TestAsserts[0].Arguments)
	assert.True(t, req.TestAsserts[0].Passed)
	assert.Empty(t, req.TestAsserts[0].Trace)
	assert.Nil(t, req.CommandData)
	assert.Nil(t, req.QueueJobData)
}

func TestResolveAsCommandAndQueueJob(t *testing.T) {
	ctx := context.Background()
	cw := New()

	require.NoError(t, cw.ResolveAsCommand(ctx, model.CommandData{
		CommandName:      "migrate",
		CommandArguments: map[string]any{"step": 2},
		CommandExitCode:  1,
		CommandOutput:    "failed",
	}))
	req := cw.Request()
	assert.Equal(t, model.RequestTypeCommand, req.Type)
	assert.Equal(t, "migrate", req.CommandName)
	assert.Equal(t, map[string]any{"step": int64(2)}, req.CommandArguments)
	assert.Equal(t, 1, req.CommandExitCode)

	cw.Reset()
	require.NoError(t, cw.ResolveAsQueueJob(ctx, model.QueueJobData{
		JobName:    "SendMail",
		JobPayload: map[string]any{"fn": func() {}},
	}))
	req = cw.Request()
	assert.Equal(t, model.RequestTypeQueueJob, req.Type)
	assert.Equal(t, model.JobDone, req.JobStatus)
	assert.Equal(t, map[string]any{"fn": "[unserializable]"}, req.JobPayload)
	assert.Nil(t, req.CommandData)
}

func TestReset_IsolatesCycles(t *testing.T) {
	ds := &resettable{}
	cw := New(WithDataSources(ds))
	ctx := context.Background()

	cw.Log().Info("first cycle", nil)
	require.NoError(t, cw.ResolveRequest(ctx))
	firstID := cw.Request().ID

	cw.Log().Info("pending", nil)
	cw.Reset()
	assert.Equal(t, 1, ds.resets)
	assert.Equal(t, StateIdle, cw.State())

	cw.Log().Info("second cycle", nil)
	require.NoError(t, cw.ResolveRequest(ctx))

	assert.NotEqual(t, firstID, cw.Request().ID)
	entries := cw.Request().Log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "second cycle", entries[0].Message)
}

func TestResolveRequest_RegistrationOrderWins(t *testing.T) {
	setController := func(v string) datasource.DataSource {
		return datasource.Func(func(_ context.Context, req *model.Request) error {
			req.Controller = v
			return nil
		})
	}

	for i := 0; i < 20; i++ {
		cw := New(WithDataSources(setController("first"), setController("second")))
		require.NoError(t, cw.ResolveRequest(context.Background()))
		assert.Equal(t, "second", cw.Request().Controller)
	}
}

func TestResolveRequest_PropagatesDataSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	cw := New(WithDataSources(
		datasource.Func(func(context.Context, *model.Request) error { return boom }),
		datasource.Func(func(context.Context, *model.Request) error { ran = true; return nil }),
	))

	err := cw.ResolveRequest(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.Equal(t, StateIdle, cw.State())
}

func TestStoreRequest(t *testing.T) {
	ctx := context.Background()

	noStorage := New()
	require.NoError(t, noStorage.ResolveRequest(ctx))
	require.NoError(t, noStorage.StoreRequest(ctx))
	assert.Equal(t, StateResolved, noStorage.State())

	store := &memoryStorage{}
	cw := New(WithStorage(store))
	require.NoError(t, cw.ResolveRequest(ctx))
	require.NoError(t, cw.StoreRequest(ctx))
	assert.Equal(t, StateStored, cw.State())
	require.Len(t, store.stored, 1)
	assert.Same(t, cw.Request(), store.stored[0])

	failing := New(WithStorage(&memoryStorage{err: errors.New("disk full")}))
	assert.Error(t, failing.StoreRequest(ctx))
}

func TestExtendRequest(t *testing.T) {
	extended := 0
	ds := &extender{fn: func(req *model.Request) { extended++; req.Controller = "extended" }}
	cw := New(WithDataSources(ds))

	stored := model.NewRequest(time.Now())
	got, err := cw.ExtendRequest(context.Background(), stored)
	require.NoError(t, err)
	assert.Same(t, stored, got)
	assert.Equal(t, "extended", stored.Controller)

	got, err = cw.ExtendRequest(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, cw.Request(), got)
	assert.Equal(t, 2, extended)
}

type extender struct {
	datasource.Base
	fn func(*model.Request)
}

func (e *extender) Resolve(context.Context, *model.Request) error { return nil }

func (e *extender) Extend(_ context.Context, req *model.Request) error {
	e.fn(req)
	return nil
}

func TestAddOperations(t *testing.T) {
	base := time.Unix(1700000000, 0)
	cw := New(WithClock(fixedClock(base)), WithSlowThreshold(50))

	cw.AddDatabaseQuery(model.DatabaseQuery{Query: "SELECT * FROM users WHERE id = $1", Bindings: []any{7}, Duration: 100}).
		AddDatabaseQuery(model.DatabaseQuery{}).
		AddCacheQuery(model.CacheQuery{Type: model.CacheHit, Key: "user:7", Value: map[string]any{"id": 7}}).
		AddEvent(model.Event{Event: "user.login", Data: map[string]any{"id": 7}}).
		AddRoute(model.Route{Method: "GET", URI: "/users/:id", Action: "users.show"}).
		AddEmail(model.Email{Subject: "Welcome", To: []string{"a@example.com"}}).
		AddView(model.View{Name: "users/show", Data: map[string]any{"user": 7}}).
		AddSubrequest("http://api/internal", "child-1", "/__clockwork/child-1", SubrequestTiming{Duration: 20 * time.Millisecond}).
		AddSubrequest("http://api/other", "child-2", "", SubrequestTiming{})
	cw.UserData("stats").SetTitle("Stats").Counters(map[string]any{"hits": 1})

	require.NoError(t, cw.ResolveRequest(context.Background()))
	req := cw.Request()

	require.Len(t, req.DatabaseQueries, 1)
	q := req.DatabaseQueries[0]
	assert.Equal(t, []any{int64(7)}, q.Bindings)
	assert.InDelta(t, model.Microtime(base)-0.1, q.Time, 1e-6)
	assert.Equal(t, 1, req.DatabaseSlowQueries)
	assert.Equal(t, 1, req.DatabaseSelects)

	assert.Len(t, req.CacheQueries, 1)
	assert.Equal(t, 1, req.CacheHits)
	assert.Len(t, req.Events, 1)
	assert.Len(t, req.Routes, 1)
	assert.Len(t, req.Emails, 1)
	assert.Len(t, req.Views, 1)
	assert.Len(t, req.Subrequests, 2)

	// only the timed subrequest reaches the timeline
	require.Equal(t, 1, req.Timeline.Len())
	ev, ok := req.Timeline.Find("subrequest-child-1")
	require.True(t, ok)
	assert.InDelta(t, 20, ev.Duration, 0.01)
	assert.Equal(t, map[string]any{"id": "child-1", "url": "http://api/internal"}, ev.Data)

	assert.Equal(t, "Stats", req.UserData["stats"].Title)
}

func TestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cw := New()
	ctx := NewContext(context.Background(), cw)
	assert.Same(t, cw, FromContext(ctx))
}

func TestDetach(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "kept"))
	ctx := Detach(NewContext(parent, New()))
	cancel()

	assert.Nil(t, FromContext(ctx))
	assert.Equal(t, "kept", ctx.Value(key{}))
	assert.NoError(t, ctx.Err())
}

func TestTransport_RecordsSubrequest(t *testing.T) {
	child := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderID, "child-"+r.Header.Get(HeaderParent))
		w.Header().Set(HeaderPath, "/__clockwork/")
		w.WriteHeader(http.StatusOK)
	}))
	defer child.Close()

	cw := New()
	client := &http.Client{Transport: &Transport{}}
	req, err := http.NewRequestWithContext(NewContext(context.Background(), cw), http.MethodGet, child.URL+"/api", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	subs := cw.Request().Subrequests
	require.Len(t, subs, 1)
	assert.Equal(t, "child-"+cw.Request().ID, subs[0].ID)
	assert.Equal(t, child.URL+"/api", subs[0].URL)
	assert.Equal(t, "/__clockwork/", subs[0].Path)
	assert.Equal(t, 1, cw.Timeline().Len())

	// without a Clockwork in the context the call passes through untouched
	plain, err := client.Get(child.URL)
	require.NoError(t, err)
	plain.Body.Close()
	assert.Len(t, cw.Request().Subrequests, 1)
}
