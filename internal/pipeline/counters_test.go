package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersAccumulateScores(t *testing.T) {
	c := NewCounters(time.Unix(100, 0))
	c.RecordContent(0.85, 0.12)
	c.RecordContent(0.65, 0.08)
	c.RecordOptimization()
	c.RecordPublication()
	c.RecordPublication()

	v := c.Values()
	assert.Equal(t, int64(2), v.ContentCreated)
	assert.InDelta(t, 1.5, v.EngagementSum, 1e-9)
	assert.InDelta(t, 0.2, v.ConversionSum, 1e-9)
	assert.Equal(t, int64(1), v.Optimizations)
	assert.Equal(t, int64(2), v.Publications)
	assert.Equal(t, time.Unix(100, 0), v.StartedAt)
}

func TestRaiseContentCreatedNeverLowers(t *testing.T) {
	c := NewCounters(time.Now())
	c.RecordContent(0, 0)
	c.RecordContent(0, 0)

	prev, raised := c.RaiseContentCreated(1)
	assert.False(t, raised)
	assert.Equal(t, int64(2), prev)

	prev, raised = c.RaiseContentCreated(5)
	assert.True(t, raised)
	assert.Equal(t, int64(2), prev)
	assert.Equal(t, int64(5), c.ContentCreated())
}

func TestCountersConcurrentIncrements(t *testing.T) {
	c := NewCounters(time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordContent(0.5, 0.5)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), c.ContentCreated())
	assert.InDelta(t, 50.0, c.Values().EngagementSum, 1e-9)
}

func TestCountersStartTruncatedToMillisecond(t *testing.T) {
	c := NewCounters(time.Date(2026, 3, 1, 9, 30, 0, 123_456_789, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 123_000_000, time.UTC), c.StartedAt())
}

func TestContentInFlightGauge(t *testing.T) {
	c := NewCounters(time.Unix(100, 0))
	done := c.beginContent()
	assert.Equal(t, int64(1), c.ContentInFlight())
	c.RecordContent(0.5, 0.1)
	done()
	assert.Equal(t, int64(0), c.ContentInFlight())
	assert.Equal(t, int64(1), c.ContentCreated())
}
