package sim

import "time"

// VTimeInSec is a point in time counted in seconds from the start of a run.
type VTimeInSec float64

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// A WallClock tells the time elapsed since it was created.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a WallClock that starts counting now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// CurrentTime returns the seconds elapsed since the clock was created.
func (c *WallClock) CurrentTime() VTimeInSec {
	return VTimeInSec(time.Since(c.start).Seconds())
}
