package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"tablecomposer/internal/db"
	"tablecomposer/internal/introspect"
)

// myExtractor implements Extractor for MySQL (information_schema).
type myExtractor struct{}

func (myExtractor) Tables(ctx context.Context, dbConn *sql.DB) ([]introspect.TableMeta, error) {
	tr, err := dbConn.QueryContext(ctx, `
        SELECT table_schema, table_name, table_comment, round(coalesce(data_length, 0)/8192) AS size_8k_pages
        FROM information_schema.tables
        WHERE table_type IN ('BASE TABLE', 'VIEW')
          AND table_schema NOT IN ('mysql','information_schema','performance_schema','sys')
        ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	return scanTables(tr)
}

func (myExtractor) Columns(ctx context.Context, dbConn *sql.DB, t introspect.TableMeta) ([]introspect.Column, error) {
	cr, err := dbConn.QueryContext(ctx, `
        SELECT column_name, column_type, is_nullable = 'YES', column_comment, column_key = 'PRI'
        FROM information_schema.columns
        WHERE table_schema = ? AND table_name = ?
        ORDER BY ordinal_position`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", t.ID(), err)
	}
	defer cr.Close()
	var cols []introspect.Column
	for cr.Next() {
		var col introspect.Column
		if err := cr.Scan(&col.Name, &col.Type, &col.Nullable, &col.Comment, &col.PK); err != nil {
			return nil, fmt.Errorf("scan column for %s: %w", t.ID(), err)
		}
		cols = append(cols, col)
	}
	return cols, cr.Err()
}

func init() {
	db.Register("mysql", myExtractor{})
	db.Register("mariadb", myExtractor{})
}
