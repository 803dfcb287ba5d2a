package model

import (
	"math"
	"time"
)

// Microtime converts t to fractional unix seconds, the time format of the
// serialized record. The zero time maps to 0.
func Microtime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromMicrotime is the inverse of Microtime.
func FromMicrotime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
