// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
)

// Repository is the persistence gateway for pipeline records.
//
// Every write is atomic with respect to a single record. Writes keyed by an
// identity that already exists with the same payload succeed without change,
// so callers may retry them. Driver and transport failures are reported as
// domain.ErrPersistenceUnavailable.
type Repository interface {
	// SaveContent inserts a content item. Returns domain.ErrDuplicateIdentity
	// if the id is already used by a different item.
	SaveContent(ctx context.Context, item *domain.ContentItem) error

	// GetContent retrieves a content item or domain.ErrNotFound.
	GetContent(ctx context.Context, contentID string) (*domain.ContentItem, error)

	// ContentExists reports whether a content item with the id exists.
	ContentExists(ctx context.Context, contentID string) (bool, error)

	// AdvanceContentStatus moves a content item to status if the state machine
	// allows it from the current status. Returns false when the item was left unchanged.
	AdvanceContentStatus(ctx context.Context, contentID string, status domain.ContentStatus) (bool, error)

	// CountContentSince counts content items created at or after since.
	CountContentSince(ctx context.Context, since time.Time) (int64, error)

	// SaveOptimization inserts an optimization record. Returns
	// domain.ErrReferenceNotFound if the referenced content does not exist.
	SaveOptimization(ctx context.Context, rec *domain.OptimizationRecord) error

	// ListOptimizations returns the optimization records of a content item, oldest first.
	ListOptimizations(ctx context.Context, contentID string) ([]*domain.OptimizationRecord, error)

	// SavePublication inserts a publication record. Returns
	// domain.ErrReferenceNotFound if the referenced content does not exist.
	SavePublication(ctx context.Context, rec *domain.PublicationRecord) error

	// ListPublications returns the publication records of a content item, oldest first.
	ListPublications(ctx context.Context, contentID string) ([]*domain.PublicationRecord, error)

	// SetActualReach records the measured reach of a publication. It may be set
	// once; a second call returns domain.ErrConflict.
	SetActualReach(ctx context.Context, publicationID string, reach int64) (*domain.PublicationRecord, error)

	// SaveMetricSnapshot appends a metric snapshot.
	SaveMetricSnapshot(ctx context.Context, snap *domain.MetricSnapshot) error

	// ListMetricSnapshots returns up to limit snapshots, newest first.
	ListMetricSnapshots(ctx context.Context, limit int) ([]*domain.MetricSnapshot, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
