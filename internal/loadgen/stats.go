package loadgen

import (
	"net/http"
	"sync/atomic"
)

// Counter tallies claim outcomes across workers.
type Counter struct {
	Claims      atomic.Int64
	Claimed     atomic.Uint64
	NotYet      atomic.Int64
	Nothing     atomic.Int64
	Conflicts   atomic.Int64
	RateLimited atomic.Int64
	Failures    atomic.Int64
}

// Observe records one claim response. code is the error body's reason, if any.
func (c *Counter) Observe(status int, code string, amount uint64) {
	switch {
	case status == http.StatusOK:
		c.Claims.Add(1)
		c.Claimed.Add(amount)
	case code == "claim_not_available_yet":
		c.NotYet.Add(1)
	case code == "nothing_to_claim":
		c.Nothing.Add(1)
	case status == http.StatusConflict:
		c.Conflicts.Add(1)
	case status == http.StatusTooManyRequests:
		c.RateLimited.Add(1)
	default:
		c.Failures.Add(1)
	}
}

// Snapshot is a point-in-time copy of a Counter.
type Snapshot struct {
	Claims      int64
	Claimed     uint64
	NotYet      int64
	Nothing     int64
	Conflicts   int64
	RateLimited int64
	Failures    int64
}

func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		Claims:      c.Claims.Load(),
		Claimed:     c.Claimed.Load(),
		NotYet:      c.NotYet.Load(),
		Nothing:     c.Nothing.Load(),
		Conflicts:   c.Conflicts.Load(),
		RateLimited: c.RateLimited.Load(),
		Failures:    c.Failures.Load(),
	}
}
