package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written to every record so clients can detect the format.
const SchemaVersion = 1

// RequestType selects which type-specific field group of a Request applies.
type RequestType string

const (
	RequestTypeHTTP     RequestType = "request"
	RequestTypeCommand  RequestType = "command"
	RequestTypeQueueJob RequestType = "queue-job"
	RequestTypeTest     RequestType = "test"
)

// Test statuses.
const (
	TestPassed     = "passed"
	TestFailed     = "failed"
	TestSkipped    = "skipped"
	TestIncomplete = "incomplete"
)

// Queue job statuses.
const (
	JobDone    = "done"
	JobFailed  = "failed"
	JobRunning = "running"
)

// CommandData is the field group of a console command.
type CommandData struct {
	CommandName              string         `json:"commandName"`
	CommandArguments         map[string]any `json:"commandArguments,omitempty"`
	CommandArgumentsDefaults map[string]any `json:"commandArgumentsDefaults,omitempty"`
	CommandOptions           map[string]any `json:"commandOptions,omitempty"`
	CommandOptionsDefaults   map[string]any `json:"commandOptionsDefaults,omitempty"`
	CommandExitCode          int            `json:"commandExitCode"`
	CommandOutput            string         `json:"commandOutput,omitempty"`
}

// QueueJobData is the field group of a queued job.
type QueueJobData struct {
	JobName        string         `json:"jobName"`
	JobDescription string         `json:"jobDescription,omitempty"`
	JobStatus      string         `json:"jobStatus"`
	JobPayload     any            `json:"jobPayload,omitempty"`
	JobQueue       string         `json:"jobQueue,omitempty"`
	JobConnection  string         `json:"jobConnection,omitempty"`
	JobOptions     map[string]any `json:"jobOptions,omitempty"`
}

// TestData is the field group of a test run.
type TestData struct {
	TestName          string       `json:"testName"`
	TestStatus        string       `json:"testStatus"`
	TestStatusMessage string       `json:"testStatusMessage,omitempty"`
	TestAsserts       []TestAssert `json:"testAsserts"`
}

// Request is the diagnostics record of one unit of work. At most one of
// the embedded type-specific groups is set.
type Request struct {
	ID      string      `json:"id"`
	Version int         `json:"version"`
	Type    RequestType `json:"type"`

	Time             float64 `json:"time"`
	ResponseTime     float64 `json:"responseTime,omitempty"`
	ResponseDuration float64 `json:"responseDuration,omitempty"`
	MemoryUsage      uint64  `json:"memoryUsage,omitempty"`

	Method            string         `json:"method,omitempty"`
	URL               string         `json:"url,omitempty"`
	URI               string         `json:"uri,omitempty"`
	Controller        string         `json:"controller,omitempty"`
	Headers           map[string]any `json:"headers,omitempty"`
	GetData           map[string]any `json:"getData,omitempty"`
	PostData          map[string]any `json:"postData,omitempty"`
	RequestData       any            `json:"requestData,omitempty"`
	SessionData       map[string]any `json:"sessionData,omitempty"`
	Cookies           map[string]any `json:"cookies,omitempty"`
	AuthenticatedUser map[string]any `json:"authenticatedUser,omitempty"`
	Middleware        []string       `json:"middleware,omitempty"`
	ResponseStatus    int            `json:"responseStatus,omitempty"`

	Log             *Log                 `json:"log"`
	Timeline        *Timeline            `json:"timelineData"`
	DatabaseQueries []DatabaseQuery      `json:"databaseQueries"`
	CacheQueries    []CacheQuery         `json:"cacheQueries"`
	Events          []Event              `json:"events"`
	Routes          []Route              `json:"routes"`
	Emails          []Email              `json:"emailsData"`
	Views           []View               `json:"viewsData"`
	Subrequests     []Subrequest         `json:"subrequests"`
	UserData        map[string]*UserData `json:"userData"`

	DatabaseQueriesCount int     `json:"databaseQueriesCount"`
	DatabaseSlowQueries  int     `json:"databaseSlowQueries"`
	DatabaseSelects      int     `json:"databaseSelects"`
	DatabaseInserts      int     `json:"databaseInserts"`
	DatabaseUpdates      int     `json:"databaseUpdates"`
	DatabaseDeletes      int     `json:"databaseDeletes"`
	DatabaseOthers       int     `json:"databaseOthers"`
	DatabaseDuration     float64 `json:"databaseDuration"`
	CacheReads           int     `json:"cacheReads"`
	CacheHits            int     `json:"cacheHits"`
	CacheWrites          int     `json:"cacheWrites"`
	CacheDeletes         int     `json:"cacheDeletes"`
	CacheTime            float64 `json:"cacheTime"`

	*CommandData
	*QueueJobData
	*TestData

	ClientMetrics map[string]any `json:"clientMetrics,omitempty"`
	WebVitals     map[string]any `json:"webVitals,omitempty"`
	Parent        string         `json:"parent,omitempty"`
	UpdateToken   string         `json:"updateToken,omitempty"`
}

// NewRequest returns an empty HTTP-typed record started at now.
func NewRequest(now time.Time) *Request {
	return &Request{
		ID:          NewID(),
		Version:     SchemaVersion,
		Type:        RequestTypeHTTP,
		Time:        Microtime(now),
		Log:         NewLog(),
		Timeline:    NewTimeline(),
		UserData:    make(map[string]*UserData),
		UpdateToken: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
}

// NewID returns a time-ordered request id; lexical order matches creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Tab returns the user data tab for key, creating it on first use.
func (r *Request) Tab(key string) *UserData {
	if r.UserData == nil {
		r.UserData = make(map[string]*UserData)
	}
	tab, ok := r.UserData[key]
	if !ok {
		tab = NewUserData(key)
		r.UserData[key] = tab
	}
	return tab
}

// SetCommand makes r a command record.
func (r *Request) SetCommand(data CommandData) {
	r.clearTypeSpecific()
	r.Type = RequestTypeCommand
	r.CommandData = &data
}

// SetQueueJob makes r a queue job record.
func (r *Request) SetQueueJob(data QueueJobData) {
	r.clearTypeSpecific()
	r.Type = RequestTypeQueueJob
	r.QueueJobData = &data
}

// SetTest makes r a test record.
func (r *Request) SetTest(data TestData) {
	r.clearTypeSpecific()
	r.Type = RequestTypeTest
	r.TestData = &data
}

func (r *Request) clearTypeSpecific() {
	r.CommandData = nil
	r.QueueJobData = nil
	r.TestData = nil
}

// StartTime returns Time as a time.Time.
func (r *Request) StartTime() time.Time {
	return FromMicrotime(r.Time)
}

// ResponseDurationMs returns the time between start and response in ms, or
// zero when either is unknown.
func (r *Request) ResponseDurationMs() float64 {
	if r.Time == 0 || r.ResponseTime == 0 {
		return 0
	}
	return (r.ResponseTime - r.Time) * 1000
}

// Summarize recomputes the derived database and cache counters. Queries
// slower than slowThreshold ms are tagged "slow"; a zero threshold disables
// the tagging.
func (r *Request) Summarize(slowThreshold float64) {
	r.DatabaseQueriesCount = len(r.DatabaseQueries)
	r.DatabaseSlowQueries, r.DatabaseSelects, r.DatabaseInserts = 0, 0, 0
	r.DatabaseUpdates, r.DatabaseDeletes, r.DatabaseOthers = 0, 0, 0
	r.DatabaseDuration = 0

	for i := range r.DatabaseQueries {
		q := &r.DatabaseQueries[i]
		r.DatabaseDuration += q.Duration
		if slowThreshold > 0 && q.Duration > slowThreshold && !hasTag(q.Tags, "slow") {
			q.Tags = append(q.Tags, "slow")
		}
		if hasTag(q.Tags, "slow") {
			r.DatabaseSlowQueries++
		}
		switch queryVerb(q.Query) {
		case "select":
			r.DatabaseSelects++
		case "insert":
			r.DatabaseInserts++
		case "update":
			r.DatabaseUpdates++
		case "delete":
			r.DatabaseDeletes++
		default:
			r.DatabaseOthers++
		}
	}

	r.CacheReads, r.CacheHits, r.CacheWrites, r.CacheDeletes = 0, 0, 0, 0
	r.CacheTime = 0
	for _, c := range r.CacheQueries {
		r.CacheTime += c.Duration
		switch c.Type {
		case CacheRead, CacheMiss:
			r.CacheReads++
		case CacheHit:
			r.CacheReads++
			r.CacheHits++
		case CacheWrite:
			r.CacheWrites++
		case CacheDelete:
			r.CacheDeletes++
		}
	}
}

func queryVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
