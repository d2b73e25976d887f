package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"tablecomposer/internal/db"
	"tablecomposer/internal/introspect"
)

// sqliteExtractor implements Extractor for SQLite. Tables have no schema; their
// id is the bare name.
type sqliteExtractor struct{}

func (sqliteExtractor) Tables(ctx context.Context, dbConn *sql.DB) ([]introspect.TableMeta, error) {
	tr, err := dbConn.QueryContext(ctx, `
	    SELECT '' AS schema_name, m.name, NULL AS comment, 0 AS size_8k_pages
	    FROM sqlite_master m
	    WHERE m.type IN ('table', 'view')
	      AND m.name NOT LIKE 'sqlite_%'
	    ORDER BY m.name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	return scanTables(tr)
}

func (sqliteExtractor) Columns(ctx context.Context, dbConn *sql.DB, t introspect.TableMeta) ([]introspect.Column, error) {
	pr, err := dbConn.QueryContext(ctx, `
	    SELECT cid, name, type, "notnull", dflt_value, pk
	    FROM pragma_table_info(?)
	    ORDER BY cid`, t.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", t.ID(), err)
	}
	defer pr.Close()
	var cols []introspect.Column
	for pr.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := pr.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column for %s: %w", t.ID(), err)
		}
		cols = append(cols, introspect.Column{
			Name:     name,
			Type:     ctype,
			Nullable: notnull == 0,
			PK:       pk != 0,
		})
	}
	return cols, pr.Err()
}

func init() {
	db.Register("sqlite3", sqliteExtractor{})
	db.Register("sqlite", sqliteExtractor{})
}
