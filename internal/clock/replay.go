package clock

import (
	"sync"
	"time"
)

// Status describes the replay clock state for broadcast to subscribers.
type Status struct {
	Paused        bool
	Speed         float64
	CurrentMillis int64
}

// Replay is a virtual clock for historical playback. While running it
// advances by real elapsed time multiplied by the speed factor; while paused
// it stands still. Safe for concurrent use.
type Replay struct {
	mu       sync.Mutex
	virtual  int64 // virtual ms accumulated up to lastReal
	lastReal time.Time
	speed    float64
	paused   bool

	now func() time.Time // injectable for tests
}

// NewReplay creates a virtual clock starting at startMillis with the given
// speed factor. Speed must be > 0.
func NewReplay(startMillis int64, speed float64) *Replay {
	if speed <= 0 {
		speed = 1
	}
	return &Replay{
		virtual:  startMillis,
		lastReal: time.Now(),
		speed:    speed,
		now:      time.Now,
	}
}

// NowMillis returns the current virtual time in ms.
func (c *Replay) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	return c.virtual
}

// settle folds real elapsed time into the virtual counter. Caller holds mu.
func (c *Replay) settle() {
	real := c.now()
	if !c.paused {
		elapsed := real.Sub(c.lastReal)
		c.virtual += int64(float64(elapsed.Milliseconds()) * c.speed)
	}
	c.lastReal = real
}

// Pause freezes the virtual clock. Idempotent.
func (c *Replay) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	c.paused = true
}

// Resume restarts the virtual clock. Idempotent.
func (c *Replay) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	c.paused = false
}

// SetSpeed changes the playback speed factor. Values <= 0 are ignored.
func (c *Replay) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	c.speed = speed
}

// Jump moves the virtual clock forward to target if target is ahead. Used by
// the replay source to skip recording gaps larger than the pacing cap.
func (c *Replay) Jump(targetMillis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	if targetMillis > c.virtual {
		c.virtual = targetMillis
	}
}

// Status returns the current clock state.
func (c *Replay) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	return Status{Paused: c.paused, Speed: c.speed, CurrentMillis: c.virtual}
}

var _ Clock = (*Replay)(nil)
