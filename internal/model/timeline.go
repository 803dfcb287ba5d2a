package model

import (
	"encoding/json"
	"time"

	"github.com/akave-ai/clockwork/internal/serializer"
)

// EventData carries optional attributes for a new timeline event. A zero
// Start means "now"; a zero End leaves the event open.
type EventData struct {
	Name  string
	Start time.Time
	End   time.Time
	Color string
	Data  any
}

// TimelineEvent is a span on the request timeline. Start and End are unix
// seconds, Duration is milliseconds; End is zero while the event is open.
type TimelineEvent struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Start       float64 `json:"start"`
	End         float64 `json:"end,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Color       string  `json:"color,omitempty"`
	Data        any     `json:"data,omitempty"`

	timeline *Timeline
}

// Begin (re)starts the event now.
func (e *TimelineEvent) Begin() *TimelineEvent {
	e.Start = Microtime(e.clock()())
	e.End = 0
	e.Duration = 0
	return e
}

// Close ends the event now. Closing an already closed event is a no-op.
func (e *TimelineEvent) Close() *TimelineEvent {
	if e.IsRunning() {
		e.closeAt(Microtime(e.clock()()))
	}
	return e
}

// Run wraps fn in Begin/Close.
func (e *TimelineEvent) Run(fn func()) *TimelineEvent {
	e.Begin()
	defer e.Close()
	fn()
	return e
}

// IsRunning reports whether the event has not been closed yet.
func (e *TimelineEvent) IsRunning() bool {
	return e.End == 0
}

// DurationMs returns the event duration, measuring open events up to now.
func (e *TimelineEvent) DurationMs() float64 {
	if e.IsRunning() {
		return (Microtime(e.clock()()) - e.Start) * 1000
	}
	return e.Duration
}

func (e *TimelineEvent) closeAt(end float64) {
	if end < e.Start {
		end = e.Start
	}
	e.End = end
	e.Duration = (e.End - e.Start) * 1000
}

func (e *TimelineEvent) clock() func() time.Time {
	if e.timeline != nil && e.timeline.now != nil {
		return e.timeline.now
	}
	return time.Now
}

// Timeline is an ordered buffer of span events.
// It is not safe for concurrent use.
type Timeline struct {
	events []*TimelineEvent
	now    func() time.Time
}

// NewTimeline returns an empty Timeline using the wall clock.
func NewTimeline() *Timeline {
	return &Timeline{now: time.Now}
}

// SetClock replaces the time source used for implicit start and end times.
func (t *Timeline) SetClock(now func() time.Time) {
	t.now = now
}

// Event opens a new event and returns its handle. Explicit Start/End in
// data take precedence over the clock.
func (t *Timeline) Event(description string, data EventData) *TimelineEvent {
	e := &TimelineEvent{
		Name:        data.Name,
		Description: description,
		Color:       data.Color,
		Data:        serializer.Normalize(data.Data),
		timeline:    t,
	}
	if e.Name == "" {
		e.Name = description
	}
	if data.Start.IsZero() {
		e.Start = Microtime(e.clock()())
	} else {
		e.Start = Microtime(data.Start)
	}
	if !data.End.IsZero() {
		e.closeAt(Microtime(data.End))
	}
	t.events = append(t.events, e)
	return e
}

// Find returns the first event with the given name.
func (t *Timeline) Find(name string) (*TimelineEvent, bool) {
	for _, e := range t.events {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Events returns the events in insertion order.
func (t *Timeline) Events() []*TimelineEvent {
	out := make([]*TimelineEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of events.
func (t *Timeline) Len() int {
	return len(t.events)
}

// Finalize closes every open event at end, or at the event's own start if
// that is later. Closed events are left untouched, so calling it again
// changes nothing.
func (t *Timeline) Finalize(end time.Time) {
	at := Microtime(end)
	for _, e := range t.events {
		if e.IsRunning() {
			e.closeAt(at)
		}
	}
}

func (t *Timeline) MarshalJSON() ([]byte, error) {
	if t.events == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.events)
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	var events []*TimelineEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}
	for _, e := range events {
		e.timeline = t
	}
	t.events = events
	if t.now == nil {
		t.now = time.Now
	}
	return nil
}
