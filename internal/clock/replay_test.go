package clock

import (
	"testing"
	"time"
)

// fakeNow lets tests drive real time by hand.
type fakeNow struct {
	t time.Time
}

func (f *fakeNow) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newTestReplay(start int64, speed float64) (*Replay, *fakeNow) {
	f := &fakeNow{t: time.Unix(1700000000, 0)}
	c := NewReplay(start, speed)
	c.now = func() time.Time { return f.t }
	c.lastReal = f.t
	return c, f
}

func TestReplayAdvancesByScaledRealTime(t *testing.T) {
	c, f := newTestReplay(1000, 2.0)

	f.advance(500 * time.Millisecond)
	if got := c.NowMillis(); got != 2000 {
		t.Errorf("NowMillis = %d, want 2000", got)
	}

	f.advance(250 * time.Millisecond)
	if got := c.NowMillis(); got != 2500 {
		t.Errorf("NowMillis = %d, want 2500", got)
	}
}

func TestReplayPauseStopsTime(t *testing.T) {
	c, f := newTestReplay(0, 1.0)

	f.advance(100 * time.Millisecond)
	c.Pause()
	f.advance(10 * time.Second)

	if got := c.NowMillis(); got != 100 {
		t.Errorf("NowMillis while paused = %d, want 100", got)
	}

	c.Resume()
	f.advance(100 * time.Millisecond)
	if got := c.NowMillis(); got != 200 {
		t.Errorf("NowMillis after resume = %d, want 200", got)
	}
}

func TestReplaySetSpeedAppliesFromChangePoint(t *testing.T) {
	c, f := newTestReplay(0, 1.0)

	f.advance(time.Second)
	c.SetSpeed(10)
	f.advance(time.Second)

	if got := c.NowMillis(); got != 11000 {
		t.Errorf("NowMillis = %d, want 11000", got)
	}
}

func TestReplaySetSpeedIgnoresNonPositive(t *testing.T) {
	c, _ := newTestReplay(0, 2.0)
	c.SetSpeed(0)
	c.SetSpeed(-1)
	if st := c.Status(); st.Speed != 2.0 {
		t.Errorf("Speed = %v, want 2.0", st.Speed)
	}
}

func TestReplayJumpOnlyMovesForward(t *testing.T) {
	c, _ := newTestReplay(5000, 1.0)

	c.Jump(9000)
	if got := c.NowMillis(); got != 9000 {
		t.Errorf("NowMillis after forward jump = %d, want 9000", got)
	}

	c.Jump(1000)
	if got := c.NowMillis(); got != 9000 {
		t.Errorf("NowMillis after backward jump = %d, want 9000", got)
	}
}

func TestReplayStatus(t *testing.T) {
	c, f := newTestReplay(0, 4.0)
	f.advance(time.Second)
	c.Pause()

	st := c.Status()
	if !st.Paused {
		t.Error("Paused = false, want true")
	}
	if st.Speed != 4.0 {
		t.Errorf("Speed = %v, want 4.0", st.Speed)
	}
	if st.CurrentMillis != 4000 {
		t.Errorf("CurrentMillis = %d, want 4000", st.CurrentMillis)
	}
}
