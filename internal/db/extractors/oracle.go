//go:build oracle
// +build oracle

package extractors

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/godror/godror"

	"tablecomposer/internal/db"
	"tablecomposer/internal/introspect"
)

// oracleExtractor implements Extractor for Oracle.
type oracleExtractor struct{}

func (oracleExtractor) Tables(ctx context.Context, dbConn *sql.DB) ([]introspect.TableMeta, error) {
	tr, err := dbConn.QueryContext(ctx, `
	    SELECT
	       ausr.username,
	       atab.table_name,
	       acom.comments,
	       nvl(atab.blocks*nvl(ts.block_size, 8192)/8192, 1) size_8k_pages
	    FROM all_users ausr
	    JOIN all_tables atab
	      ON ausr.username = atab.owner
	    LEFT JOIN all_tab_comments acom
	      ON acom.owner = atab.owner
	     AND acom.table_name = atab.table_name
	    LEFT JOIN user_tablespaces ts
	      ON atab.tablespace_name = ts.tablespace_name
	    WHERE ausr.oracle_maintained = 'N'
	    ORDER BY ausr.username, atab.table_name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	return scanTables(tr)
}

func (oracleExtractor) Columns(ctx context.Context, dbConn *sql.DB, t introspect.TableMeta) ([]introspect.Column, error) {
	cr, err := dbConn.QueryContext(ctx, `
        SELECT c.column_name, c.data_type, c.nullable, cc.comments
        FROM all_tab_columns c
        LEFT JOIN all_col_comments cc
          ON cc.owner = c.owner AND cc.table_name = c.table_name AND cc.column_name = c.column_name
        WHERE c.owner = :1 AND c.table_name = :2
        ORDER BY c.column_id`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", t.ID(), err)
	}
	var cols []introspect.Column
	for cr.Next() {
		var col introspect.Column
		var nullable string
		if err := cr.Scan(&col.Name, &col.Type, &nullable, &col.Comment); err != nil {
			cr.Close()
			return nil, fmt.Errorf("scan column for %s: %w", t.ID(), err)
		}
		col.Nullable = (nullable == "Y")
		cols = append(cols, col)
	}
	cr.Close()

	markPrimaryKeys(ctx, dbConn, cols, `
        SELECT acc.column_name
        FROM all_cons_columns acc
        JOIN all_constraints ac ON acc.owner = ac.owner AND acc.constraint_name = ac.constraint_name
        WHERE ac.constraint_type = 'P' AND acc.owner = :1 AND acc.table_name = :2`, t.Schema, t.Name)
	return cols, nil
}

func init() {
	db.Register("godror", oracleExtractor{})
	db.Register("oracle", oracleExtractor{})
}
