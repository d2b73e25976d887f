package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"tablecomposer/internal/db"
	"tablecomposer/internal/introspect"
)

// pgExtractor implements Extractor using information_schema + pg_catalog queries.
type pgExtractor struct{}

func (pgExtractor) Tables(ctx context.Context, dbConn *sql.DB) ([]introspect.TableMeta, error) {
	tr, err := dbConn.QueryContext(ctx, `
        SELECT table_schema, table_name,
               obj_description((quote_ident(table_schema)||'.'||quote_ident(table_name))::regclass) AS table_comment,
               pg_table_size(quote_ident(table_schema)||'.'||quote_ident(table_name))/8192 AS size_8k_pages
        FROM information_schema.tables
        WHERE table_type IN ('BASE TABLE', 'VIEW')
          AND table_schema NOT IN ('pg_catalog','information_schema','pg_toast')
        ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	return scanTables(tr)
}

func (pgExtractor) Columns(ctx context.Context, dbConn *sql.DB, t introspect.TableMeta) ([]introspect.Column, error) {
	cr, err := dbConn.QueryContext(ctx, `
        SELECT c.column_name, c.data_type, c.is_nullable = 'YES',
               col_description((quote_ident(c.table_schema)||'.'||quote_ident(c.table_name))::regclass, c.ordinal_position)
        FROM information_schema.columns c
        WHERE c.table_schema = $1 AND c.table_name = $2
        ORDER BY c.ordinal_position`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", t.ID(), err)
	}
	var cols []introspect.Column
	for cr.Next() {
		var col introspect.Column
		if err := cr.Scan(&col.Name, &col.Type, &col.Nullable, &col.Comment); err != nil {
			cr.Close()
			return nil, fmt.Errorf("scan column for %s: %w", t.ID(), err)
		}
		cols = append(cols, col)
	}
	cr.Close()

	markPrimaryKeys(ctx, dbConn, cols, `
        SELECT a.attname
        FROM pg_index i
        JOIN pg_class c ON i.indrelid = c.oid
        JOIN pg_namespace ns ON c.relnamespace = ns.oid
        JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
        WHERE ns.nspname = $1 AND c.relname = $2 AND i.indisprimary`, t.Schema, t.Name)
	return cols, nil
}

func init() {
	db.Register("postgres", pgExtractor{})
	db.Register("postgresql", pgExtractor{})
}
