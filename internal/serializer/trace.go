package serializer

import (
	"runtime"
	"strings"
)

// StackFrame is one caller frame attached to collected entries.
type StackFrame struct {
	Call string `json:"call"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// DefaultTraceLimit is the number of frames kept per entry.
const DefaultTraceLimit = 10

// collectorPackages are skipped when looking for the application frame that
// caused an entry to be recorded.
var collectorPackages = []string{
	"runtime.",
	"github.com/akave-ai/clockwork/internal/clockwork.",
	"github.com/akave-ai/clockwork/internal/model.",
	"github.com/akave-ai/clockwork/internal/serializer.",
	"github.com/akave-ai/clockwork/internal/logging.",
	"github.com/akave-ai/clockwork/internal/database.",
	"github.com/rs/zerolog",
	"github.com/jackc/pgx",
}

// CaptureTrace returns up to limit frames starting skip frames above the
// caller, with collector frames removed.
func CaptureTrace(skip, limit int) []StackFrame {
	if limit <= 0 {
		limit = DefaultTraceLimit
	}
	pcs := make([]uintptr, limit+32)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]StackFrame, 0, limit)
	for len(out) < limit {
		frame, more := frames.Next()
		if frame.Function != "" && !isCollectorFrame(frame.Function) {
			out = append(out, StackFrame{Call: frame.Function, File: frame.File, Line: frame.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// Caller returns the file and line of the first frame, or zero values.
func Caller(trace []StackFrame) (string, int) {
	if len(trace) == 0 {
		return "", 0
	}
	return trace[0].File, trace[0].Line
}

func isCollectorFrame(function string) bool {
	for _, p := range collectorPackages {
		if strings.HasPrefix(function, p) {
			return true
		}
	}
	return false
}
