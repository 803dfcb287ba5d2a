package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/akave-ai/clockwork/internal/model"
)

// ServerTiming renders the Server-Timing header: the total time followed by
// up to limit timeline events. A negative limit lists every event.
func ServerTiming(total time.Duration, timeline *model.Timeline, limit int) string {
	metrics := []string{fmt.Sprintf("app;dur=%.3f", float64(total)/float64(time.Millisecond))}
	if timeline != nil {
		for i, e := range timeline.Events() {
			if limit >= 0 && i >= limit {
				break
			}
			metrics = append(metrics, fmt.Sprintf("%s;dur=%.3f;desc=%q",
				metricName(e.Name, i), e.DurationMs(), e.Description))
		}
	}
	return strings.Join(metrics, ", ")
}

// metricName reduces name to an RFC 7230 token.
func metricName(name string, i int) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("event-%d", i)
	}
	return b.String()
}
