// Package pipeline drives content through the generate, optimize and publish stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ashureev/contentpipeline/internal/capability"
	"github.com/ashureev/contentpipeline/internal/config"
	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/events"
	"github.com/ashureev/contentpipeline/internal/registry"
	"github.com/ashureev/contentpipeline/internal/store"
	"github.com/google/uuid"
)

const defaultOptimizationType = "engagement"

// GenerateRequest asks for a new content item.
type GenerateRequest struct {
	ContentType    string `json:"content_type"`
	Topic          string `json:"topic"`
	TargetAudience string `json:"target_audience"`
}

// OptimizeRequest asks for an optimization pass over existing content.
type OptimizeRequest struct {
	ContentID string `json:"content_id"`
	Type      string `json:"type"`
}

// PublishRequest asks for content to be published to channels.
type PublishRequest struct {
	ContentID string   `json:"content_id"`
	Channels  []string `json:"channels"`
}

// Options configures an Orchestrator.
type Options struct {
	DefaultTargetAudience   string
	DefaultChannels         []string
	OptimizePublishedPolicy config.OptimizePublishedPolicy
	MaxIdentityAttempts     int
	WriteTimeout            time.Duration

	// NewID derives a fresh identity with the given prefix.
	NewID  func(prefix string) string
	Now    func() time.Time
	Events events.Publisher
	Logger *slog.Logger
}

// OptionsFromConfig returns options populated from application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultTargetAudience:   cfg.Pipeline.DefaultTargetAudience,
		DefaultChannels:         cfg.Pipeline.DefaultPublishChannels,
		OptimizePublishedPolicy: cfg.Pipeline.OptimizePublishedPolicy,
		MaxIdentityAttempts:     cfg.Pipeline.MaxIdentityAttempts,
		WriteTimeout:            cfg.Timeout.StageWrite,
	}
}

// NewUUID returns prefix_<uuid>.
func NewUUID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// Orchestrator runs content through the pipeline stages. It is safe for
// concurrent use and takes no locks.
type Orchestrator struct {
	repo     store.Repository
	agents   *registry.Registry
	producer capability.Producer
	counters *Counters
	opts     Options
	logger   *slog.Logger
}

// New creates an orchestrator.
func New(repo store.Repository, agents *registry.Registry, producer capability.Producer, counters *Counters, opts Options) *Orchestrator {
	if opts.DefaultTargetAudience == "" {
		opts.DefaultTargetAudience = "business_professionals"
	}
	if len(opts.DefaultChannels) == 0 {
		opts.DefaultChannels = []string{"website", "social_media"}
	}
	if opts.OptimizePublishedPolicy == "" {
		opts.OptimizePublishedPolicy = config.PolicyReject
	}
	if opts.MaxIdentityAttempts <= 0 {
		opts.MaxIdentityAttempts = 5
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = NewUUID
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		repo:     repo,
		agents:   agents,
		producer: producer,
		counters: counters,
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}
}

// Counters returns the counters the orchestrator updates.
func (o *Orchestrator) Counters() *Counters {
	return o.counters
}

// detach returns a context that survives caller cancellation, bounded by the write timeout.
// Once a stage has started it runs to completion.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.WriteTimeout)
}

func (o *Orchestrator) stageAgents(stage domain.Stage) ([]string, error) {
	ids := o.agents.StageAgents(stage)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no active agents for stage %s", domain.ErrInvalidState, stage)
	}
	return ids, nil
}

// Generate creates a new content item. The item is persisted before the
// content counter is incremented, so a failed write never counts.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (*domain.ContentItem, error) {
	contentType := strings.TrimSpace(req.ContentType)
	topic := strings.TrimSpace(req.Topic)
	audience := strings.TrimSpace(req.TargetAudience)
	if contentType == "" {
		return nil, fmt.Errorf("%w: content_type is required", domain.ErrValidation)
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", domain.ErrValidation)
	}
	if audience == "" {
		audience = o.opts.DefaultTargetAudience
	}

	agents, err := o.stageAgents(domain.StageGenerate)
	if err != nil {
		return nil, err
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	draft, err := o.producer.Generate(ctx, capability.Brief{
		ContentType:    contentType,
		Topic:          topic,
		TargetAudience: audience,
		Agents:         agents,
	})
	if err != nil {
		return nil, capabilityError("generate", err)
	}

	item := &domain.ContentItem{
		ContentType:          contentType,
		Topic:                topic,
		TargetAudience:       audience,
		Headline:             draft.Headline,
		Body:                 draft.Body,
		SEOKeywords:          draft.Keywords,
		PredictedEngagement:  o.clampScore("predicted_engagement", draft.PredictedEngagement),
		PredictedConversions: o.clampScore("predicted_conversions", draft.PredictedConversions),
		Status:               domain.StatusReadyForReview,
		AgentsInvolved:       agents,
		CreatedAt:            o.opts.Now().Truncate(time.Millisecond),
	}
	if item.SEOKeywords == nil {
		item.SEOKeywords = []string{}
	}

	done := o.counters.beginContent()
	if err := o.saveWithFreshIdentity(ctx, item); err != nil {
		done()
		return nil, err
	}
	o.counters.RecordContent(item.PredictedEngagement, item.PredictedConversions)
	done()

	o.logger.Info("Content generated", "content_id", item.ID, "content_type", contentType, "agents", len(agents))
	o.opts.Events.Publish(events.Event{
		Type:      events.ContentGenerated,
		ContentID: item.ID,
		Status:    string(item.Status),
	})
	return item, nil
}

// saveWithFreshIdentity assigns an identity and persists item, re-deriving the
// identity on collision up to the configured number of attempts.
func (o *Orchestrator) saveWithFreshIdentity(ctx context.Context, item *domain.ContentItem) error {
	for attempt := 1; attempt <= o.opts.MaxIdentityAttempts; attempt++ {
		item.ID = o.opts.NewID("content")

		err := o.repo.SaveContent(ctx, item)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicateIdentity) {
			o.logger.Error("Failed to persist content", "content_id", item.ID, "error", err)
			return fmt.Errorf("save content: %w", err)
		}
		o.logger.Warn("Content identity collision, re-deriving", "content_id", item.ID, "attempt", attempt)
	}

	err := fmt.Errorf("%w: no unique content identity after %d attempts", domain.ErrInternal, o.opts.MaxIdentityAttempts)
	o.logger.Error("Identity generation exhausted", "error", err)
	return err
}

// clampScore keeps a predicted score within [0, 1].
func (o *Orchestrator) clampScore(name string, v float64) float64 {
	switch {
	case math.IsNaN(v):
		o.logger.Warn("Capability returned NaN score", "score", name)
		return 0
	case v < 0:
		o.logger.Warn("Capability returned score below range", "score", name, "value", v)
		return 0
	case v > 1:
		o.logger.Warn("Capability returned score above range", "score", name, "value", v)
		return 1
	default:
		return v
	}
}

// Optimize records an optimization pass and moves the content to optimized.
func (o *Orchestrator) Optimize(ctx context.Context, req OptimizeRequest) (*domain.OptimizationRecord, error) {
	contentID := strings.TrimSpace(req.ContentID)
	if contentID == "" {
		return nil, fmt.Errorf("%w: content_id is required", domain.ErrValidation)
	}
	optType := strings.TrimSpace(req.Type)
	if optType == "" {
		optType = defaultOptimizationType
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	item, err := o.repo.GetContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	var warning string
	if item.Status.Terminal() {
		if o.opts.OptimizePublishedPolicy == config.PolicyReject {
			return nil, fmt.Errorf("%w: content %s is already %s", domain.ErrInvalidState, contentID, item.Status)
		}
		warning = "content already published; status left unchanged"
		o.logger.Warn("Optimizing published content", "content_id", contentID, "policy", o.opts.OptimizePublishedPolicy)
	}

	agents, err := o.stageAgents(domain.StageOptimize)
	if err != nil {
		return nil, err
	}

	improvements, err := o.producer.Optimize(ctx, item, optType, agents)
	if err != nil {
		return nil, capabilityError("optimize", err)
	}

	rec := &domain.OptimizationRecord{
		ID:               o.opts.NewID("opt"),
		ContentID:        contentID,
		OptimizationType: optType,
		Improvements:     improvements,
		AgentsInvolved:   agents,
		CreatedAt:        o.opts.Now().Truncate(time.Millisecond),
		Warning:          warning,
	}
	if rec.Improvements == nil {
		rec.Improvements = map[string]float64{}
	}

	if err := o.repo.SaveOptimization(ctx, rec); err != nil {
		o.logger.Error("Failed to persist optimization", "content_id", contentID, "error", err)
		return nil, fmt.Errorf("save optimization: %w", err)
	}
	o.counters.RecordOptimization()

	status := item.Status
	if warning == "" {
		advanced, err := o.repo.AdvanceContentStatus(ctx, contentID, domain.StatusOptimized)
		if err != nil {
			o.logger.Error("Optimization saved but status transition failed", "content_id", contentID, "optimization_id", rec.ID, "error", err)
			return nil, fmt.Errorf("advance status: %w", err)
		}
		if advanced {
			status = domain.StatusOptimized
		}
	}

	o.logger.Info("Content optimized", "content_id", contentID, "optimization_id", rec.ID, "type", optType, "status", status)
	o.opts.Events.Publish(events.Event{
		Type:      events.ContentOptimized,
		ContentID: contentID,
		RecordID:  rec.ID,
		Status:    string(status),
	})
	return rec, nil
}

// Publish records a publication and moves the content to published. When the
// capability fails to distribute, a failed publication is recorded and the
// content status is left unchanged.
func (o *Orchestrator) Publish(ctx context.Context, req PublishRequest) (*domain.PublicationRecord, error) {
	contentID := strings.TrimSpace(req.ContentID)
	if contentID == "" {
		return nil, fmt.Errorf("%w: content_id is required", domain.ErrValidation)
	}
	channels := normalizeChannels(req.Channels)
	if len(channels) == 0 {
		channels = append([]string(nil), o.opts.DefaultChannels...)
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	item, err := o.repo.GetContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	// Every stored item went through generate; an unknown status means the row is corrupt.
	if !item.Status.Valid() {
		err := fmt.Errorf("%w: content %s has no generate record (status %q)", domain.ErrInvalidState, contentID, item.Status)
		o.logger.Error("Publish guard tripped", "content_id", contentID, "error", err)
		return nil, err
	}

	agents, err := o.stageAgents(domain.StagePublish)
	if err != nil {
		return nil, err
	}

	rec := &domain.PublicationRecord{
		ID:             o.opts.NewID("pub"),
		ContentID:      contentID,
		Channels:       channels,
		PublishedAt:    o.opts.Now().Truncate(time.Millisecond),
		Status:         domain.PublicationPublished,
		AgentsInvolved: agents,
	}

	reach, distErr := o.producer.Distribute(ctx, item, channels, agents)
	if distErr != nil {
		rec.Status = domain.PublicationFailed
		if err := o.repo.SavePublication(ctx, rec); err != nil {
			o.logger.Error("Failed to persist failed publication", "content_id", contentID, "error", err)
		}
		o.opts.Events.Publish(events.Event{
			Type:      events.PublicationFailed,
			ContentID: contentID,
			RecordID:  rec.ID,
			Status:    string(rec.Status),
		})
		return nil, capabilityError("publish", distErr)
	}
	rec.EstimatedReach = reach

	if err := o.repo.SavePublication(ctx, rec); err != nil {
		o.logger.Error("Failed to persist publication", "content_id", contentID, "error", err)
		return nil, fmt.Errorf("save publication: %w", err)
	}
	o.counters.RecordPublication()

	if !item.Status.Terminal() {
		if _, err := o.repo.AdvanceContentStatus(ctx, contentID, domain.StatusPublished); err != nil {
			o.logger.Error("Publication saved but status transition failed", "content_id", contentID, "publication_id", rec.ID, "error", err)
			return nil, fmt.Errorf("advance status: %w", err)
		}
	}

	o.logger.Info("Content published", "content_id", contentID, "publication_id", rec.ID, "channels", channels, "estimated_reach", reach)
	o.opts.Events.Publish(events.Event{
		Type:      events.ContentPublished,
		ContentID: contentID,
		RecordID:  rec.ID,
		Status:    string(domain.StatusPublished),
	})
	return rec, nil
}

// RecordActualReach stores the measured reach of a publication.
func (o *Orchestrator) RecordActualReach(ctx context.Context, publicationID string, reach int64) (*domain.PublicationRecord, error) {
	publicationID = strings.TrimSpace(publicationID)
	if publicationID == "" {
		return nil, fmt.Errorf("%w: publication id is required", domain.ErrValidation)
	}
	if reach < 0 {
		return nil, fmt.Errorf("%w: actual_reach must be >= 0", domain.ErrValidation)
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	rec, err := o.repo.SetActualReach(ctx, publicationID, reach)
	if err != nil {
		return nil, fmt.Errorf("record actual reach: %w", err)
	}
	o.logger.Info("Actual reach recorded", "publication_id", publicationID, "actual_reach", reach)
	return rec, nil
}

// History returns a content item with its optimization and publication records.
func (o *Orchestrator) History(ctx context.Context, contentID string) (*domain.ContentHistory, error) {
	item, err := o.repo.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	opts, err := o.repo.ListOptimizations(ctx, contentID)
	if err != nil {
		return nil, err
	}
	pubs, err := o.repo.ListPublications(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = []*domain.OptimizationRecord{}
	}
	if pubs == nil {
		pubs = []*domain.PublicationRecord{}
	}
	return &domain.ContentHistory{Content: item, Optimizations: opts, Publications: pubs}, nil
}

// ReconcileResult reports a counter reconciliation pass.
type ReconcileResult struct {
	Counted  int64 `json:"counted"`
	Counter  int64 `json:"counter"`
	InFlight int64 `json:"in_flight"`
	Raised   bool  `json:"raised"`
}

// Reconcile recounts content rows created since the process started and lifts
// the content counter if it fell behind. A counter ahead of the rows is an
// invariant violation; it is reported but the counter is never lowered.
//
// While a generate is in flight its row may already be counted without its
// increment, so the counter is only raised when nothing is in flight after
// the count.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	// Every increment follows its row, so reading the counter first keeps rows >= counter.
	counter := o.counters.ContentCreated()
	counted, err := o.repo.CountContentSince(ctx, o.counters.StartedAt())
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}
	inFlight := o.counters.ContentInFlight()

	res := ReconcileResult{Counted: counted, Counter: counter, InFlight: inFlight}
	switch {
	case counted < counter:
		err := fmt.Errorf("%w: content counter %d exceeds persisted rows %d", domain.ErrInternal, counter, counted)
		o.logger.Error("Counter divergence detected", "counted", counted, "counter", counter, "error", err)
		return res, err
	case counted > counter && inFlight > 0:
		o.logger.Debug("Reconcile deferred, generates in flight", "counted", counted, "counter", counter, "in_flight", inFlight)
	case counted > counter:
		prev, raised := o.counters.RaiseContentCreated(counted)
		res.Raised = raised
		if raised {
			o.logger.Warn("Content counter drift closed", "counted", counted, "counter", prev)
		}
	}
	return res, nil
}

func capabilityError(stage string, err error) error {
	if errors.Is(err, domain.ErrCapabilityFailed) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%s: %w: %w", stage, domain.ErrCapabilityFailed, err)
}

func normalizeChannels(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, ch := range in {
		ch = strings.TrimSpace(ch)
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}
