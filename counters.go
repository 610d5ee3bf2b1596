package orbit

import (
	"fmt"
	"sync/atomic"
)

// Counters track what happened to operations offered to a recorder.
type Counters struct {
	// Captured entries were appended to the store, or queued for append.
	Captured atomic.Uint64

	// Skipped operations were disabled by config, or excluded.
	Skipped atomic.Uint64

	// Dropped entries were discarded because the async buffer was full, or
	// because the recorder was closed.
	Dropped atomic.Uint64

	// Failed operations couldn't be encoded or appended.
	Failed atomic.Uint64
}

// CounterValues is a point-in-time copy of counters.
type CounterValues struct {
	Captured uint64 `json:"captured"`
	Skipped  uint64 `json:"skipped"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

// Values returns the current values of the counters.
func (c *Counters) Values() CounterValues {
	return CounterValues{
		Captured: c.Captured.Load(),
		Skipped:  c.Skipped.Load(),
		Dropped:  c.Dropped.Load(),
		Failed:   c.Failed.Load(),
	}
}

func (v CounterValues) String() string {
	return fmt.Sprintf("captured=%d skipped=%d dropped=%d failed=%d", v.Captured, v.Skipped, v.Dropped, v.Failed)
}
