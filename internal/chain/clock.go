package chain

// Clock yields the current block timestamp (unix seconds).
type Clock interface {
	Now() uint64
}

// ManualClock is driven by the core from transaction timestamps; it never
// reads wall-clock time.
type ManualClock struct {
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint64 {
	return c.now
}

// Set moves the clock to ts. Timestamps never go backwards; an earlier ts
// is ignored and false is returned.
func (c *ManualClock) Set(ts uint64) bool {
	if ts < c.now {
		return false
	}
	c.now = ts
	return true
}

func (c *ManualClock) Advance(seconds uint64) {
	c.now += seconds
}
