package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
)

// fakeRepo is an in-memory repository with fault injection.
type fakeRepo struct {
	mu           sync.Mutex
	content      map[string]domain.ContentItem
	optimization []*domain.OptimizationRecord
	publications []*domain.PublicationRecord
	snapshots    []*domain.MetricSnapshot

	// saveContentErr, when set, fails every SaveContent call.
	saveContentErr error
	// savePublicationErr, when set, fails every SavePublication call.
	savePublicationErr error
	contentWrites      int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{content: make(map[string]domain.ContentItem)}
}

func (f *fakeRepo) SaveContent(_ context.Context, item *domain.ContentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentWrites++
	if f.saveContentErr != nil {
		return f.saveContentErr
	}
	if existing, ok := f.content[item.ID]; ok {
		if reflect.DeepEqual(existing, *item) {
			return nil
		}
		return fmt.Errorf("content %s: %w", item.ID, domain.ErrDuplicateIdentity)
	}
	cp := *item
	cp.SEOKeywords = append([]string(nil), item.SEOKeywords...)
	cp.AgentsInvolved = append([]string(nil), item.AgentsInvolved...)
	f.content[item.ID] = cp
	return nil
}

func (f *fakeRepo) GetContent(_ context.Context, id string) (*domain.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.content[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	return &item, nil
}

func (f *fakeRepo) ContentExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.content[id]
	return ok, nil
}

func (f *fakeRepo) AdvanceContentStatus(_ context.Context, id string, status domain.ContentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.content[id]
	if !ok {
		return false, fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	if !item.Status.CanTransition(status) {
		return false, nil
	}
	item.Status = status
	f.content[id] = item
	return true, nil
}

func (f *fakeRepo) CountContentSince(_ context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.content {
		if !item.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) SaveOptimization(_ context.Context, rec *domain.OptimizationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.content[rec.ContentID]; !ok {
		return fmt.Errorf("content %s: %w", rec.ContentID, domain.ErrReferenceNotFound)
	}
	f.optimization = append(f.optimization, rec)
	return nil
}

func (f *fakeRepo) ListOptimizations(_ context.Context, id string) ([]*domain.OptimizationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.OptimizationRecord
	for _, rec := range f.optimization {
		if rec.ContentID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) SavePublication(_ context.Context, rec *domain.PublicationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.savePublicationErr != nil {
		return f.savePublicationErr
	}
	if _, ok := f.content[rec.ContentID]; !ok {
		return fmt.Errorf("content %s: %w", rec.ContentID, domain.ErrReferenceNotFound)
	}
	f.publications = append(f.publications, rec)
	return nil
}

func (f *fakeRepo) ListPublications(_ context.Context, id string) ([]*domain.PublicationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PublicationRecord
	for _, rec := range f.publications {
		if rec.ContentID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetActualReach(_ context.Context, id string, reach int64) (*domain.PublicationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.publications {
		if rec.ID != id {
			continue
		}
		if rec.ActualReach != nil {
			return nil, fmt.Errorf("publication %s: %w", id, domain.ErrConflict)
		}
		rec.ActualReach = &reach
		cp := *rec
		return &cp, nil
	}
	return nil, fmt.Errorf("publication %s: %w", id, domain.ErrNotFound)
}

func (f *fakeRepo) SaveMetricSnapshot(_ context.Context, snap *domain.MetricSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeRepo) ListMetricSnapshots(_ context.Context, limit int) ([]*domain.MetricSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*domain.MetricSnapshot(nil), f.snapshots...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) contentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.content)
}
