// Package clock supplies the pipeline's notion of time. Live and demo modes
// run on the wall clock; replay runs on a virtual clock that can be paused
// and scaled. All pipeline timers read time through the Clock interface so
// replay is deterministic given identical input.
package clock

import "time"

// Clock returns the current pipeline time.
type Clock interface {
	// NowMillis returns the current pipeline time in milliseconds since the
	// Unix epoch.
	NowMillis() int64
}

// Wall is the real-time clock.
type Wall struct{}

// NowMillis returns the wall-clock time in ms.
func (Wall) NowMillis() int64 {
	return time.Now().UnixMilli()
}

var _ Clock = Wall{}
