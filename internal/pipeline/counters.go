package pipeline

import (
	"math"
	"sync/atomic"
	"time"
)

// scoreScale converts predicted scores to integer micro-units for atomic accumulation.
const scoreScale = 1_000_000

// Counters holds process-wide pipeline counters. Every update is a single
// atomic add; counters other than the in-flight gauge never decrease.
type Counters struct {
	startedAt time.Time

	// contentInFlight counts generates between their first write attempt and their increment.
	contentInFlight  atomic.Int64
	contentCreated   atomic.Int64
	optimizations    atomic.Int64
	publications     atomic.Int64
	engagementMicros atomic.Int64
	conversionMicros atomic.Int64
}

// CounterValues is a read-only copy of the counters.
type CounterValues struct {
	StartedAt      time.Time
	ContentCreated int64
	Optimizations  int64
	Publications   int64
	EngagementSum  float64
	ConversionSum  float64
}

// NewCounters creates counters for a process that started at startedAt.
// The start is truncated to the millisecond precision content is stored with.
func NewCounters(startedAt time.Time) *Counters {
	return &Counters{startedAt: startedAt.Truncate(time.Millisecond)}
}

// StartedAt returns the process start time.
func (c *Counters) StartedAt() time.Time {
	return c.startedAt
}

// ContentCreated returns the number of content items created by this process.
func (c *Counters) ContentCreated() int64 {
	return c.contentCreated.Load()
}

// RecordContent counts a persisted content item and its predicted scores.
func (c *Counters) RecordContent(engagement, conversion float64) {
	c.engagementMicros.Add(int64(math.Round(engagement * scoreScale)))
	c.conversionMicros.Add(int64(math.Round(conversion * scoreScale)))
	c.contentCreated.Add(1)
}

// beginContent marks a generate that may persist a row before it is counted.
// The returned func must be called after RecordContent or on failure.
func (c *Counters) beginContent() (done func()) {
	c.contentInFlight.Add(1)
	return func() { c.contentInFlight.Add(-1) }
}

// ContentInFlight returns the number of generates that may have a persisted
// row not yet reflected in ContentCreated.
func (c *Counters) ContentInFlight() int64 {
	return c.contentInFlight.Load()
}

// RecordOptimization counts a persisted optimization record.
func (c *Counters) RecordOptimization() {
	c.optimizations.Add(1)
}

// RecordPublication counts a persisted successful publication.
func (c *Counters) RecordPublication() {
	c.publications.Add(1)
}

// RaiseContentCreated lifts the content counter to n if it is lower and
// returns the value it replaced. It never lowers the counter.
func (c *Counters) RaiseContentCreated(n int64) (prev int64, raised bool) {
	for {
		cur := c.contentCreated.Load()
		if n <= cur {
			return cur, false
		}
		if c.contentCreated.CompareAndSwap(cur, n) {
			return cur, true
		}
	}
}

// Values returns a copy of the counters. Fields are read one at a time, so a
// copy taken during concurrent updates may be off by the in-flight updates.
func (c *Counters) Values() CounterValues {
	return CounterValues{
		StartedAt:      c.startedAt,
		ContentCreated: c.contentCreated.Load(),
		Optimizations:  c.optimizations.Load(),
		Publications:   c.publications.Load(),
		EngagementSum:  float64(c.engagementMicros.Load()) / scoreScale,
		ConversionSum:  float64(c.conversionMicros.Load()) / scoreScale,
	}
}
