package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/contentpipeline/internal/domain"
)

// Template is the built-in producer. It fills fixed templates and returns
// baseline predictions; it never fails and performs no I/O.
type Template struct {
	ReachPerChannel int64
}

var _ Producer = (*Template)(nil)

// NewTemplate creates the built-in producer.
func NewTemplate() *Template {
	return &Template{ReachPerChannel: 25000}
}

// Generate fills the headline and body templates for the brief.
func (t *Template) Generate(_ context.Context, brief Brief) (*Draft, error) {
	return &Draft{
		Headline: fmt.Sprintf("Revolutionary %s: Transform Your Business Today", brief.Topic),
		Body: fmt.Sprintf("This is a professionally generated %s about %s for %s. "+
			"Our AI agents have analyzed viral content patterns and created this piece to maximize engagement and conversion.",
			brief.ContentType, brief.Topic, brief.TargetAudience),
		Keywords:             []string{strings.ToLower(brief.Topic), "business transformation", "innovation"},
		PredictedEngagement:  0.85,
		PredictedConversions: 0.12,
	}, nil
}

// Optimize returns the baseline improvement deltas, boosting the requested focus.
func (t *Template) Optimize(_ context.Context, _ *domain.ContentItem, optimizationType string, _ []string) (map[string]float64, error) {
	improvements := map[string]float64{
		"engagement_increase":     0.25,
		"seo_score_improvement":   0.40,
		"readability_enhancement": 0.30,
	}
	switch optimizationType {
	case "seo":
		improvements["seo_score_improvement"] = 0.55
	case "readability":
		improvements["readability_enhancement"] = 0.45
	case "conversion":
		improvements["conversion_increase"] = 0.15
	}
	return improvements, nil
}

// Distribute estimates reach as a flat amount per channel.
func (t *Template) Distribute(_ context.Context, _ *domain.ContentItem, channels []string, _ []string) (int64, error) {
	return t.ReachPerChannel * int64(len(channels)), nil
}
