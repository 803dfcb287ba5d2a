package logging

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/serializer"
)

// Writer is a zerolog.LevelWriter that appends every record to a collector
// log. Fields other than level, message and time become the entry context.
type Writer struct {
	mu  sync.Mutex
	log *model.Log
	now func() time.Time
}

var _ zerolog.LevelWriter = (*Writer)(nil)

// NewWriter returns a Writer feeding log.
func NewWriter(log *model.Log) *Writer {
	return &Writer{log: log, now: time.Now}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		// not JSON; keep the raw line
		fields = map[string]any{zerolog.MessageFieldName: string(p)}
	}

	msg, _ := fields[zerolog.MessageFieldName].(string)
	delete(fields, zerolog.MessageFieldName)
	if l, ok := fields[zerolog.LevelFieldName].(string); ok && level == zerolog.NoLevel {
		if parsed, err := zerolog.ParseLevel(l); err == nil {
			level = parsed
		}
	}
	delete(fields, zerolog.LevelFieldName)

	// zerolog's own timestamp is second-precision by default; the record is
	// written synchronously, so the clock is exact and orders it against
	// entries logged directly into the collector
	at := w.now()
	delete(fields, zerolog.TimestampFieldName)
	if len(fields) == 0 {
		fields = nil
	}

	trace := serializer.CaptureTrace(0, serializer.DefaultTraceLimit)
	file, line := serializer.Caller(trace)

	w.mu.Lock()
	w.log.Append(model.LogMessage{
		Level:   Severity(level),
		Message: msg,
		Context: serializer.Sanitize(fields),
		Time:    model.Microtime(at),
		File:    file,
		Line:    line,
		Trace:   trace,
	})
	w.mu.Unlock()
	return len(p), nil
}

// Severity maps zerolog levels onto syslog severities.
func Severity(level zerolog.Level) model.Level {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return model.LevelDebug
	case zerolog.WarnLevel:
		return model.LevelWarning
	case zerolog.ErrorLevel:
		return model.LevelError
	case zerolog.FatalLevel:
		return model.LevelCritical
	case zerolog.PanicLevel:
		return model.LevelEmergency
	default:
		return model.LevelInfo
	}
}

// RequestLogger returns base writing every record to out and into log.
// A nil out keeps records in the collector only.
func RequestLogger(base zerolog.Logger, out io.Writer, log *model.Log) zerolog.Logger {
	if out == nil {
		return base.Output(NewWriter(log))
	}
	return base.Output(zerolog.MultiLevelWriter(out, NewWriter(log)))
}
