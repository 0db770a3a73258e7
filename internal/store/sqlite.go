package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
	"github.com/ashureev/contentpipeline/internal/shared"
	_ "modernc.org/sqlite"
)

// Options controls the connection pool of a SQLiteStore.
type Options struct {
	MaxOpenConns int
	Retry        shared.RetryPolicy
}

// DefaultOptions returns the pool settings used by the request path.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns: 20,
		Retry:        shared.RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond},
	}
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository with its own connection pool.
// Several stores may be opened on the same file to keep pools independent.
func NewSQLite(dbPath string, opts Options) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a writer holds the lock.
	dsn := dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = DefaultOptions().MaxOpenConns
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultOptions().Retry
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(min(5, opts.MaxOpenConns))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: opts.Retry}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS content (
		content_id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		topic TEXT NOT NULL,
		target_audience TEXT NOT NULL,
		headline TEXT NOT NULL,
		body TEXT NOT NULL,
		seo_keywords_json TEXT NOT NULL,
		predicted_engagement REAL NOT NULL,
		predicted_conversions REAL NOT NULL,
		status TEXT NOT NULL,
		agents_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_content_created ON content(created_at);

	CREATE TABLE IF NOT EXISTS optimizations (
		optimization_id TEXT PRIMARY KEY,
		content_id TEXT NOT NULL REFERENCES content(content_id),
		optimization_type TEXT NOT NULL,
		improvements_json TEXT NOT NULL,
		agents_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_optimizations_content ON optimizations(content_id);

	CREATE TABLE IF NOT EXISTS publications (
		publication_id TEXT PRIMARY KEY,
		content_id TEXT NOT NULL REFERENCES content(content_id),
		channels_json TEXT NOT NULL,
		published_at INTEGER NOT NULL,
		estimated_reach INTEGER NOT NULL,
		actual_reach INTEGER,
		status TEXT NOT NULL,
		agents_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_publications_content ON publications(content_id);

	CREATE TABLE IF NOT EXISTS system_metrics (
		snapshot_id TEXT PRIMARY KEY,
		taken_at INTEGER NOT NULL,
		total_content INTEGER NOT NULL,
		total_agents INTEGER NOT NULL,
		active_agents INTEGER NOT NULL,
		performance_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_system_metrics_taken ON system_metrics(taken_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// classify maps driver errors onto the domain error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrDuplicateIdentity), errors.Is(err, domain.ErrPersistenceUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case shared.IsSQLiteUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDuplicateIdentity, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
	}
}

// exec runs a write statement, retrying on lock contention.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, op, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveContent inserts a content item.
func (s *SQLiteStore) SaveContent(ctx context.Context, item *domain.ContentItem) error {
	keywords, err := json.Marshal(nonNil(item.SEOKeywords))
	if err != nil {
		return fmt.Errorf("marshal seo keywords: %w", err)
	}
	agents, err := json.Marshal(nonNil(item.AgentsInvolved))
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}

	query := `
	INSERT INTO content (
		content_id, content_type, topic, target_audience, headline, body,
		seo_keywords_json, predicted_engagement, predicted_conversions,
		status, agents_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(content_id) DO NOTHING`

	created := item.CreatedAt.UnixMilli()
	res, err := s.exec(ctx, "save content", query,
		item.ID, item.ContentType, item.Topic, item.TargetAudience, item.Headline, item.Body,
		string(keywords), item.PredictedEngagement, item.PredictedConversions,
		string(item.Status), string(agents), created, time.Now().UnixMilli(),
	)
	if err != nil {
		return classify("save content", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return classify("save content rows affected", err)
	}
	if rows == 1 {
		return nil
	}

	// The id is taken. A retry of the same write is fine; anything else is a collision.
	existing, err := s.GetContent(ctx, item.ID)
	if err != nil {
		return err
	}
	if sameContent(existing, item) {
		return nil
	}
	return fmt.Errorf("save content %s: %w", item.ID, domain.ErrDuplicateIdentity)
}

// sameContent compares every field fixed at creation. Status is excluded
// because it may have advanced since the first write.
func sameContent(a, b *domain.ContentItem) bool {
	return a.ContentType == b.ContentType &&
		a.Topic == b.Topic &&
		a.TargetAudience == b.TargetAudience &&
		a.Headline == b.Headline &&
		a.Body == b.Body &&
		slices.Equal(a.SEOKeywords, b.SEOKeywords) &&
		a.PredictedEngagement == b.PredictedEngagement &&
		a.PredictedConversions == b.PredictedConversions &&
		slices.Equal(a.AgentsInvolved, b.AgentsInvolved) &&
		a.CreatedAt.UnixMilli() == b.CreatedAt.UnixMilli()
}

const contentColumns = `content_id, content_type, topic, target_audience, headline, body,
	seo_keywords_json, predicted_engagement, predicted_conversions, status, agents_json, created_at`

// GetContent retrieves a content item by id.
func (s *SQLiteStore) GetContent(ctx context.Context, contentID string) (*domain.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content WHERE content_id = ?`, contentID)

	var item domain.ContentItem
	var keywords, agents, status string
	var createdAt int64

	err := row.Scan(
		&item.ID, &item.ContentType, &item.Topic, &item.TargetAudience, &item.Headline, &item.Body,
		&keywords, &item.PredictedEngagement, &item.PredictedConversions, &status, &agents, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", contentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("scan content row", err)
	}

	if err := json.Unmarshal([]byte(keywords), &item.SEOKeywords); err != nil {
		return nil, fmt.Errorf("decode seo keywords of %s: %w", contentID, err)
	}
	if err := json.Unmarshal([]byte(agents), &item.AgentsInvolved); err != nil {
		return nil, fmt.Errorf("decode agents of %s: %w", contentID, err)
	}
	item.Status = domain.ContentStatus(status)
	item.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &item, nil
}

// ContentExists reports whether the content id exists.
func (s *SQLiteStore) ContentExists(ctx context.Context, contentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM content WHERE content_id = ?`, contentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("content exists", err)
	}
	return true, nil
}

// AdvanceContentStatus moves the item forward along the state machine.
func (s *SQLiteStore) AdvanceContentStatus(ctx context.Context, contentID string, status domain.ContentStatus) (bool, error) {
	from := status.Predecessors()
	if len(from) == 0 {
		return false, fmt.Errorf("advance %s to %q: %w", contentID, status, domain.ErrInvalidState)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := `UPDATE content SET status = ?, updated_at = ? WHERE content_id = ? AND status IN (` + placeholders + `)`
	args := []any{string(status), time.Now().UnixMilli(), contentID}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.exec(ctx, "advance content status", query, args...)
	if err != nil {
		return false, classify("advance content status", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, classify("advance content status rows affected", err)
	}
	if rows == 0 {
		slog.Debug("AdvanceContentStatus affected 0 rows", "content_id", contentID, "status", status)
	}
	return rows == 1, nil
}

// CountContentSince counts content created at or after since.
func (s *SQLiteStore) CountContentSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content WHERE created_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, classify("count content", err)
	}
	return n, nil
}

// SaveOptimization inserts an optimization record if its content exists.
func (s *SQLiteStore) SaveOptimization(ctx context.Context, rec *domain.OptimizationRecord) error {
	improvements, err := json.Marshal(rec.Improvements)
	if err != nil {
		return fmt.Errorf("marshal improvements: %w", err)
	}
	agents, err := json.Marshal(nonNil(rec.AgentsInvolved))
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}

	// The existence check and the insert are one statement, so the reference is validated at write time.
	query := `
	INSERT INTO optimizations (optimization_id, content_id, optimization_type, improvements_json, agents_json, created_at)
	SELECT ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM content WHERE content_id = ?)
	ON CONFLICT(optimization_id) DO NOTHING`

	res, err := s.exec(ctx, "save optimization", query,
		rec.ID, rec.ContentID, rec.OptimizationType, string(improvements), string(agents),
		rec.CreatedAt.UnixMilli(), rec.ContentID,
	)
	if err != nil {
		return classify("save optimization", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify("save optimization rows affected", err)
	}
	if rows == 1 {
		return nil
	}

	return s.explainSkippedInsert(ctx, "optimizations", "optimization_id", rec.ID, rec.ContentID)
}

// explainSkippedInsert resolves why an INSERT ... WHERE EXISTS ... ON CONFLICT DO NOTHING wrote nothing.
func (s *SQLiteStore) explainSkippedInsert(ctx context.Context, table, idColumn, id, contentID string) error {
	exists, err := s.ContentExists(ctx, contentID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("content %s: %w", contentID, domain.ErrReferenceNotFound)
	}

	var owner string
	err = s.db.QueryRowContext(ctx, `SELECT content_id FROM `+table+` WHERE `+idColumn+` = ?`, id).Scan(&owner)
	if err != nil {
		return classify("lookup "+table, err)
	}
	if owner == contentID {
		return nil
	}
	return fmt.Errorf("%s %s: %w", table, id, domain.ErrDuplicateIdentity)
}

// ListOptimizations returns optimization records for a content item.
func (s *SQLiteStore) ListOptimizations(ctx context.Context, contentID string) ([]*domain.OptimizationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT optimization_id, content_id, optimization_type, improvements_json, agents_json, created_at
		FROM optimizations WHERE content_id = ? ORDER BY created_at, optimization_id`, contentID)
	if err != nil {
		return nil, classify("query optimizations", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close optimization rows", "error", closeErr)
		}
	}()

	var out []*domain.OptimizationRecord
	for rows.Next() {
		var rec domain.OptimizationRecord
		var improvements, agents string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.ContentID, &rec.OptimizationType, &improvements, &agents, &createdAt); err != nil {
			return nil, classify("scan optimization row", err)
		}
		if err := json.Unmarshal([]byte(improvements), &rec.Improvements); err != nil {
			return nil, fmt.Errorf("decode improvements of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(agents), &rec.AgentsInvolved); err != nil {
			return nil, fmt.Errorf("decode agents of %s: %w", rec.ID, err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate optimizations", err)
	}
	return out, nil
}

// SavePublication inserts a publication record if its content exists.
func (s *SQLiteStore) SavePublication(ctx context.Context, rec *domain.PublicationRecord) error {
	channels, err := json.Marshal(nonNil(rec.Channels))
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	agents, err := json.Marshal(nonNil(rec.AgentsInvolved))
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}

	var actual any
	if rec.ActualReach != nil {
		actual = *rec.ActualReach
	}

	query := `
	INSERT INTO publications (publication_id, content_id, channels_json, published_at, estimated_reach, actual_reach, status, agents_json)
	SELECT ?, ?, ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM content WHERE content_id = ?)
	ON CONFLICT(publication_id) DO NOTHING`

	res, err := s.exec(ctx, "save publication", query,
		rec.ID, rec.ContentID, string(channels), rec.PublishedAt.UnixMilli(), rec.EstimatedReach,
		actual, string(rec.Status), string(agents), rec.ContentID,
	)
	if err != nil {
		return classify("save publication", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify("save publication rows affected", err)
	}
	if rows == 1 {
		return nil
	}

	return s.explainSkippedInsert(ctx, "publications", "publication_id", rec.ID, rec.ContentID)
}

const publicationColumns = `publication_id, content_id, channels_json, published_at, estimated_reach, actual_reach, status, agents_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublication(row rowScanner) (*domain.PublicationRecord, error) {
	var rec domain.PublicationRecord
	var channels, agents, status string
	var publishedAt int64
	var actual sql.NullInt64

	if err := row.Scan(&rec.ID, &rec.ContentID, &channels, &publishedAt, &rec.EstimatedReach, &actual, &status, &agents); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(channels), &rec.Channels); err != nil {
		return nil, fmt.Errorf("decode channels of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(agents), &rec.AgentsInvolved); err != nil {
		return nil, fmt.Errorf("decode agents of %s: %w", rec.ID, err)
	}
	if actual.Valid {
		v := actual.Int64
		rec.ActualReach = &v
	}
	rec.PublishedAt = time.UnixMilli(publishedAt).UTC()
	rec.Status = domain.PublicationStatus(status)
	return &rec, nil
}

// ListPublications returns publication records for a content item.
func (s *SQLiteStore) ListPublications(ctx context.Context, contentID string) ([]*domain.PublicationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+publicationColumns+`
		FROM publications WHERE content_id = ? ORDER BY published_at, publication_id`, contentID)
	if err != nil {
		return nil, classify("query publications", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close publication rows", "error", closeErr)
		}
	}()

	var out []*domain.PublicationRecord
	for rows.Next() {
		rec, err := scanPublication(rows)
		if err != nil {
			return nil, classify("scan publication row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate publications", err)
	}
	return out, nil
}

// SetActualReach fills the actual reach of a publication exactly once.
func (s *SQLiteStore) SetActualReach(ctx context.Context, publicationID string, reach int64) (*domain.PublicationRecord, error) {
	res, err := s.exec(ctx, "set actual reach",
		`UPDATE publications SET actual_reach = ? WHERE publication_id = ? AND actual_reach IS NULL`,
		reach, publicationID)
	if err != nil {
		return nil, classify("set actual reach", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, classify("set actual reach rows affected", err)
	}

	rec, err := scanPublication(s.db.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM publications WHERE publication_id = ?`, publicationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("publication %s: %w", publicationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("scan publication row", err)
	}
	if rows == 0 {
		return rec, fmt.Errorf("publication %s already has an actual reach: %w", publicationID, domain.ErrConflict)
	}
	return rec, nil
}

// SaveMetricSnapshot appends a metric snapshot.
func (s *SQLiteStore) SaveMetricSnapshot(ctx context.Context, snap *domain.MetricSnapshot) error {
	perf, err := json.Marshal(snap.Performance)
	if err != nil {
		return fmt.Errorf("marshal performance metrics: %w", err)
	}

	_, err = s.exec(ctx, "save metric snapshot", `
		INSERT INTO system_metrics (snapshot_id, taken_at, total_content, total_agents, active_agents, performance_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_id) DO NOTHING`,
		snap.ID, snap.Timestamp.UnixMilli(), snap.TotalContent, snap.TotalAgents, snap.ActiveAgents, string(perf),
	)
	if err != nil {
		return classify("save metric snapshot", err)
	}
	return nil
}

// ListMetricSnapshots returns the newest snapshots first.
func (s *SQLiteStore) ListMetricSnapshots(ctx context.Context, limit int) ([]*domain.MetricSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, taken_at, total_content, total_agents, active_agents, performance_json
		FROM system_metrics ORDER BY taken_at DESC, snapshot_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classify("query metric snapshots", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close metric snapshot rows", "error", closeErr)
		}
	}()

	var out []*domain.MetricSnapshot
	for rows.Next() {
		var snap domain.MetricSnapshot
		var takenAt int64
		var perf string
		if err := rows.Scan(&snap.ID, &takenAt, &snap.TotalContent, &snap.TotalAgents, &snap.ActiveAgents, &perf); err != nil {
			return nil, classify("scan metric snapshot row", err)
		}
		if err := json.Unmarshal([]byte(perf), &snap.Performance); err != nil {
			return nil, fmt.Errorf("decode performance of %s: %w", snap.ID, err)
		}
		snap.Timestamp = time.UnixMilli(takenAt).UTC()
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate metric snapshots", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
