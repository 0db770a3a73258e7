package domain

import "time"

// SupportedContentTypes lists the content types reported by analytics.
var SupportedContentTypes = []string{"blog_post", "social_media", "email", "whitepaper", "video_script"}

// PerformanceMetrics is the nested performance section of a snapshot.
type PerformanceMetrics struct {
	AverageEngagement     float64  `json:"average_engagement_rate"`
	AverageConversion     float64  `json:"average_conversion_rate"`
	ContentTypesSupported []string `json:"content_types_supported"`
	TotalOptimizations    int64    `json:"total_optimizations"`
	TotalPublications     int64    `json:"total_publications"`
	UptimeSeconds         float64  `json:"system_uptime"`
}

// MetricSnapshot is a point-in-time copy of aggregate metrics.
type MetricSnapshot struct {
	ID           string             `json:"snapshot_id,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	TotalContent int64              `json:"total_content_created"`
	TotalAgents  int                `json:"total_agents"`
	ActiveAgents int                `json:"active_agents"`
	Performance  PerformanceMetrics `json:"performance_metrics"`
}
