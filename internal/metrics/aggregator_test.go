package metrics

import (
	"testing"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/pipeline"
	"github.com/ashureev/contentpipeline/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEmpty(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)

	snap := NewAggregator(reg, pipeline.NewCounters(start), func() time.Time { return now }).Snapshot()

	assert.Empty(t, snap.ID)
	assert.Equal(t, now, snap.Timestamp)
	assert.Zero(t, snap.TotalContent)
	assert.Equal(t, 9, snap.TotalAgents)
	assert.Equal(t, 9, snap.ActiveAgents)
	assert.Zero(t, snap.Performance.AverageEngagement)
	assert.Equal(t, 90.0, snap.Performance.UptimeSeconds)
	assert.Equal(t, domain.SupportedContentTypes, snap.Performance.ContentTypesSupported)
}

func TestSnapshotAverages(t *testing.T) {
	reg, err := registry.New(registry.Table{Agents: []domain.Agent{
		{ID: "a", Status: domain.AgentActive},
		{ID: "b", Status: domain.AgentInactive},
	}})
	require.NoError(t, err)

	counters := pipeline.NewCounters(time.Now())
	counters.RecordContent(0.9, 0.2)
	counters.RecordContent(0.7, 0.1)
	counters.RecordOptimization()
	counters.RecordPublication()

	snap := NewAggregator(reg, counters, nil).Snapshot()

	assert.Equal(t, int64(2), snap.TotalContent)
	assert.Equal(t, 2, snap.TotalAgents)
	assert.Equal(t, 1, snap.ActiveAgents)
	assert.InDelta(t, 0.8, snap.Performance.AverageEngagement, 1e-9)
	assert.InDelta(t, 0.15, snap.Performance.AverageConversion, 1e-9)
	assert.Equal(t, int64(1), snap.Performance.TotalOptimizations)
	assert.Equal(t, int64(1), snap.Performance.TotalPublications)
}

func TestSnapshotDoesNotAliasSupportedTypes(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	snap := NewAggregator(reg, pipeline.NewCounters(time.Now()), nil).Snapshot()

	snap.Performance.ContentTypesSupported[0] = "changed"
	assert.Equal(t, "blog_post", domain.SupportedContentTypes[0])
}
