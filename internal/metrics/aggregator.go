// Package metrics derives aggregate performance metrics from the agent
// registry and the pipeline counters.
package metrics

import (
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/pipeline"
)

// AgentCatalog is the part of the registry the aggregator reads.
type AgentCatalog interface {
	Len() int
	ActiveCount() int
}

// CounterSource supplies counter values.
type CounterSource interface {
	Values() pipeline.CounterValues
}

// Aggregator computes metric snapshots. It performs no I/O.
type Aggregator struct {
	agents   AgentCatalog
	counters CounterSource
	now      func() time.Time
}

// NewAggregator creates an aggregator. A nil clock uses time.Now in UTC.
func NewAggregator(agents AgentCatalog, counters CounterSource, now func() time.Time) *Aggregator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Aggregator{agents: agents, counters: counters, now: now}
}

// Snapshot returns the current metrics. The snapshot carries no identity;
// callers that persist it assign one.
func (a *Aggregator) Snapshot() domain.MetricSnapshot {
	v := a.counters.Values()
	now := a.now()

	perf := domain.PerformanceMetrics{
		ContentTypesSupported: append([]string(nil), domain.SupportedContentTypes...),
		TotalOptimizations:    v.Optimizations,
		TotalPublications:     v.Publications,
	}
	if v.ContentCreated > 0 {
		perf.AverageEngagement = v.EngagementSum / float64(v.ContentCreated)
		perf.AverageConversion = v.ConversionSum / float64(v.ContentCreated)
	}
	if up := now.Sub(v.StartedAt); up > 0 {
		perf.UptimeSeconds = up.Seconds()
	}

	return domain.MetricSnapshot{
		Timestamp:    now,
		TotalContent: v.ContentCreated,
		TotalAgents:  a.agents.Len(),
		ActiveAgents: a.agents.ActiveCount(),
		Performance:  perf,
	}
}
