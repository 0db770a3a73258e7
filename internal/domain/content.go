// Package domain contains core domain types for the content pipeline.
package domain

import (
	"time"
)

// ContentStatus is the lifecycle state of a content item.
type ContentStatus string

const (
	StatusReadyForReview ContentStatus = "ready_for_review"
	StatusOptimized      ContentStatus = "optimized"
	StatusPublished      ContentStatus = "published"
)

// rank orders statuses along the pipeline. Unknown statuses rank below every known one.
func (s ContentStatus) rank() int {
	switch s {
	case StatusReadyForReview:
		return 1
	case StatusOptimized:
		return 2
	case StatusPublished:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s ContentStatus) Valid() bool {
	return s.rank() > 0
}

// Terminal reports whether no transition leaves s.
func (s ContentStatus) Terminal() bool {
	return s == StatusPublished
}

// CanTransition reports whether the state machine allows moving from s to next.
// Transitions only move forward; published is terminal.
func (s ContentStatus) CanTransition(next ContentStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() > s.rank() && next != StatusReadyForReview
}

// Predecessors returns the statuses from which s may be entered.
func (s ContentStatus) Predecessors() []ContentStatus {
	var out []ContentStatus
	for _, from := range []ContentStatus{StatusReadyForReview, StatusOptimized, StatusPublished} {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}

// ContentItem is a generated piece of content.
type ContentItem struct {
	ID                   string        `json:"content_id"`
	ContentType          string        `json:"content_type"`
	Topic                string        `json:"topic"`
	TargetAudience       string        `json:"target_audience"`
	Headline             string        `json:"headline"`
	Body                 string        `json:"content"`
	SEOKeywords          []string      `json:"seo_keywords"`
	PredictedEngagement  float64       `json:"predicted_engagement"`
	PredictedConversions float64       `json:"predicted_conversions"`
	Status               ContentStatus `json:"status"`
	AgentsInvolved       []string      `json:"agents_involved"`
	CreatedAt            time.Time     `json:"creation_time"`
}

// OptimizationRecord is the immutable result of an optimize stage.
type OptimizationRecord struct {
	ID               string             `json:"optimization_id"`
	ContentID        string             `json:"content_id"`
	OptimizationType string             `json:"optimization_type"`
	Improvements     map[string]float64 `json:"improvements"`
	AgentsInvolved   []string           `json:"agents_involved"`
	CreatedAt        time.Time          `json:"created_at"`

	// Warning is set when the record was accepted without advancing the content status.
	Warning string `json:"warning,omitempty"`
}

// PublicationStatus is the outcome of a publish stage.
type PublicationStatus string

const (
	PublicationPublished PublicationStatus = "published"
	PublicationFailed    PublicationStatus = "failed"
)

// PublicationRecord is the result of a publish stage. Only ActualReach may change after creation.
type PublicationRecord struct {
	ID             string            `json:"publication_id"`
	ContentID      string            `json:"content_id"`
	Channels       []string          `json:"channels"`
	PublishedAt    time.Time         `json:"publication_time"`
	EstimatedReach int64             `json:"estimated_reach"`
	ActualReach    *int64            `json:"actual_reach,omitempty"`
	Status         PublicationStatus `json:"status"`
	AgentsInvolved []string          `json:"agents_involved"`
}

// ContentHistory is a content item together with the records that reference it.
type ContentHistory struct {
	Content       *ContentItem          `json:"content"`
	Optimizations []*OptimizationRecord `json:"optimizations"`
	Publications  []*PublicationRecord  `json:"publications"`
}
