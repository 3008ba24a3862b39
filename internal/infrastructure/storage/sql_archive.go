package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

const archiveTable = "impact_archive"

const archiveSchema = `CREATE TABLE IF NOT EXISTS impact_archive (
    protocol_id      TEXT NOT NULL,
    number           INTEGER NOT NULL,
    title            TEXT NOT NULL,
    status           TEXT NOT NULL,
    url              TEXT NOT NULL,
    impact_level     TEXT NOT NULL,
    breaking_changes BOOLEAN NOT NULL,
    affected_areas   TEXT NOT NULL,
    confidence       TEXT NOT NULL,
    score            INTEGER NOT NULL,
    strategy         TEXT NOT NULL,
    tl_dr            TEXT NOT NULL,
    checked_at       TIMESTAMP NOT NULL,
    PRIMARY KEY (protocol_id, number)
)`

// SQLArchive upserts dispatched assessments into a SQL table.
type SQLArchive struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ImpactArchive = (*SQLArchive)(nil)

// OpenArchive opens driver ("sqlite" or "postgres") at dsn and ensures the schema exists.
func OpenArchive(ctx context.Context, driver, dsn string) (*SQLArchive, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	case "postgres", "postgresql", "pq":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer keeps modernc's file locking happy.
		db.SetMaxOpenConns(1)
	}

	archive := NewSQLArchive(db, driver)
	if err := archive.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return archive, nil
}

// NewSQLArchive wires a sql.DB; driver picks the placeholder style.
func NewSQLArchive(db *sql.DB, driver string) *SQLArchive {
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}
	return &SQLArchive{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// EnsureSchema creates the archive table if needed.
func (r *SQLArchive) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, archiveSchema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// SaveAssessments upserts each assessed proposal keyed by (protocol_id, number).
func (r *SQLArchive) SaveAssessments(ctx context.Context, items []domain.Assessed) error {
	if r.db == nil || len(items) == 0 {
		return nil
	}

	for _, item := range items {
		query, args, err := r.upsert(item).ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", item.Proposal.ID(), err)
		}
	}
	return nil
}

func (r *SQLArchive) upsert(item domain.Assessed) sq.InsertBuilder {
	p, a := item.Proposal, item.Assessment
	areas := make([]string, 0, len(a.AffectedAreas))
	for _, area := range a.AffectedAreas {
		areas = append(areas, string(area))
	}
	checked := a.CheckedAt
	if checked.IsZero() {
		checked = time.Now()
	}

	return r.builder.Insert(archiveTable).
		Columns("protocol_id", "number", "title", "status", "url", "impact_level",
			"breaking_changes", "affected_areas", "confidence", "score", "strategy", "tl_dr", "checked_at").
		Values(string(p.Protocol), p.Number, p.Title, string(p.Status), p.URL, string(a.ImpactLevel),
			a.BreakingChanges, strings.Join(areas, ","), string(a.Confidence), a.Score, a.Strategy, a.TLDR, checked.UTC()).
		Suffix(`ON CONFLICT (protocol_id, number) DO UPDATE
              SET title = EXCLUDED.title,
                  status = EXCLUDED.status,
                  impact_level = EXCLUDED.impact_level,
                  breaking_changes = EXCLUDED.breaking_changes,
                  affected_areas = EXCLUDED.affected_areas,
                  confidence = EXCLUDED.confidence,
                  score = EXCLUDED.score,
                  strategy = EXCLUDED.strategy,
                  tl_dr = EXCLUDED.tl_dr,
                  checked_at = EXCLUDED.checked_at`)
}

// ArchivedImpact is one archive row.
type ArchivedImpact struct {
	Protocol    domain.Protocol
	Number      int
	Title       string
	ImpactLevel domain.ImpactLevel
	Breaking    bool
	Score       int
	Strategy    string
	CheckedAt   time.Time
}

// ListByProtocol returns archived rows for protocol, highest number first.
func (r *SQLArchive) ListByProtocol(ctx context.Context, protocol domain.Protocol, limit uint64) ([]ArchivedImpact, error) {
	if r.db == nil {
		return nil, nil
	}

	q := r.builder.Select("protocol_id", "number", "title", "impact_level", "breaking_changes", "score", "strategy", "checked_at").
		From(archiveTable).
		Where(sq.Eq{"protocol_id": string(protocol)}).
		OrderBy("number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}

	var result []ArchivedImpact
	for rows.Next() {
		var (
			row   ArchivedImpact
			proto string
			level string
		)
		if err := rows.Scan(&proto, &row.Number, &row.Title, &level, &row.Breaking, &row.Score, &row.Strategy, &row.CheckedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row.Protocol = domain.Protocol(proto)
		row.ImpactLevel = domain.ImpactLevel(level)
		result = append(result, row)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// Close releases the database handle.
func (r *SQLArchive) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
