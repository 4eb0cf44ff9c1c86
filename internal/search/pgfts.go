package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries live items with plainto_tsquery and ts_rank, using
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "i.deleted_at IS NULL AND i.fts @@ " + tsQuery
	if q.SurgeryID != "" {
		where += fmt.Sprintf(" AND i.surgery_id = $%d", argN)
		args = append(args, q.SurgeryID)
		argN++
	}
	if q.FilterType != "" {
		where += fmt.Sprintf(" AND i.type = $%d", argN)
		args = append(args, q.FilterType)
		argN++
	}
	if q.FilterCategory != "" {
		where += fmt.Sprintf(" AND i.category_id = $%d", argN)
		args = append(args, q.FilterCategory)
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM items i WHERE %s", where)

	dataSQL := fmt.Sprintf(`
		SELECT i.id, i.title,
			ts_headline('english', i.title || ' ' || coalesce(i.legacy_footer_text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			i.type, i.surgery_id, coalesce(i.category_id, '')
		FROM items i
		WHERE %s
		ORDER BY ts_rank(i.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Type, &r.SurgeryID, &r.CategoryID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all live items for full reindexing. Body text is
// left empty here; the caller enriches records from the content documents.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, type, surgery_id, coalesce(category_id, '')
		FROM items
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	records := make([]ItemRecord, 0)
	for rows.Next() {
		var rec ItemRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Type, &rec.SurgeryID, &rec.CategoryID); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return records, nil
}
