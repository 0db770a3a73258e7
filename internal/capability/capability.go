// Package capability defines the content-producing capability the pipeline calls
// and the implementations that back it.
package capability

import (
	"context"

	"github.com/ashureev/contentpipeline/internal/domain"
)

// Brief describes the content a generate stage should produce.
type Brief struct {
	ContentType    string
	Topic          string
	TargetAudience string
	Agents         []string
}

// Draft is the output of a generate stage.
type Draft struct {
	Headline             string
	Body                 string
	Keywords             []string
	PredictedEngagement  float64
	PredictedConversions float64
}

// Producer is the black-box capability behind the pipeline stages.
// Implementations must be safe for concurrent use.
type Producer interface {
	// Generate produces a draft for the brief.
	Generate(ctx context.Context, brief Brief) (*Draft, error)

	// Optimize returns improvement metrics for an item, keyed by metric name.
	Optimize(ctx context.Context, item *domain.ContentItem, optimizationType string, agents []string) (map[string]float64, error)

	// Distribute pushes an item to channels and returns the estimated reach.
	Distribute(ctx context.Context, item *domain.ContentItem, channels []string, agents []string) (int64, error)
}
