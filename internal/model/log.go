package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/akave-ai/clockwork/internal/serializer"
)

// Level is a syslog-style severity.
type Level string

const (
	LevelEmergency Level = "emergency"
	LevelAlert     Level = "alert"
	LevelCritical  Level = "critical"
	LevelError     Level = "error"
	LevelWarning   Level = "warning"
	LevelNotice    Level = "notice"
	LevelInfo      Level = "info"
	LevelDebug     Level = "debug"
)

// LogMessage is a single entry of a Log.
type LogMessage struct {
	Level   Level                   `json:"level"`
	Message string                  `json:"message"`
	Context map[string]any          `json:"context,omitempty"`
	Time    float64                 `json:"time"`
	File    string                  `json:"file,omitempty"`
	Line    int                     `json:"line,omitempty"`
	Trace   []serializer.StackFrame `json:"trace,omitempty"`
}

// Log is an append-only, ordered buffer of log messages.
// It is not safe for concurrent use.
type Log struct {
	messages []LogMessage
	now      func() time.Time
}

// NewLog returns an empty Log using the wall clock.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// SetClock replaces the time source used to stamp new messages.
func (l *Log) SetClock(now func() time.Time) {
	l.now = now
}

// Log appends a message stamped with the current time.
func (l *Log) Log(level Level, message string, context map[string]any) {
	now := l.now
	if now == nil {
		now = time.Now
	}
	trace := serializer.CaptureTrace(1, serializer.DefaultTraceLimit)
	file, line := serializer.Caller(trace)
	l.messages = append(l.messages, LogMessage{
		Level:   level,
		Message: message,
		Context: serializer.NormalizeMap(context),
		Time:    Microtime(now()),
		File:    file,
		Line:    line,
		Trace:   trace,
	})
}

func (l *Log) Emergency(message string, context map[string]any) {
	l.Log(LevelEmergency, message, context)
}

func (l *Log) Alert(message string, context map[string]any) {
	l.Log(LevelAlert, message, context)
}

func (l *Log) Critical(message string, context map[string]any) {
	l.Log(LevelCritical, message, context)
}

func (l *Log) Error(message string, context map[string]any) {
	l.Log(LevelError, message, context)
}

func (l *Log) Warning(message string, context map[string]any) {
	l.Log(LevelWarning, message, context)
}

func (l *Log) Notice(message string, context map[string]any) {
	l.Log(LevelNotice, message, context)
}

func (l *Log) Info(message string, context map[string]any) {
	l.Log(LevelInfo, message, context)
}

func (l *Log) Debug(message string, context map[string]any) {
	l.Log(LevelDebug, message, context)
}

// Append adds already-built entries, keeping their original times.
func (l *Log) Append(entries ...LogMessage) {
	l.messages = append(l.messages, entries...)
}

// Entries returns a copy of the messages in append order.
func (l *Log) Entries() []LogMessage {
	out := make([]LogMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	return len(l.messages)
}

// SortByTime orders messages by time ascending. Equal times keep their
// relative order.
func (l *Log) SortByTime() {
	sort.SliceStable(l.messages, func(i, j int) bool {
		return l.messages[i].Time < l.messages[j].Time
	})
}

func (l *Log) MarshalJSON() ([]byte, error) {
	if l.messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.messages)
}

func (l *Log) UnmarshalJSON(data []byte) error {
	var messages []LogMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return err
	}
	l.messages = messages
	if l.now == nil {
		l.now = time.Now
	}
	return nil
}
