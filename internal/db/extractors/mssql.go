package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"tablecomposer/internal/db"
	"tablecomposer/internal/introspect"
)

// mssqlExtractor implements Extractor for Microsoft SQL Server.
type mssqlExtractor struct{}

func (mssqlExtractor) Tables(ctx context.Context, dbConn *sql.DB) ([]introspect.TableMeta, error) {
	tr, err := dbConn.QueryContext(ctx, `
        SELECT
          s.name AS schema_name,
          t.name AS table_name,
          CAST(sep.value AS nvarchar(max)) AS comment,
          coalesce(sum(au.used_pages), 0) as size_8k_pages
        FROM sys.schemas AS s
        JOIN sys.tables AS t
          ON s.schema_id = t.schema_id
        LEFT JOIN sys.extended_properties AS sep
          ON t.object_id = sep.major_id
         AND sep.minor_id = 0
         AND sep.name = 'MS_Description'
        LEFT JOIN sys.partitions AS p
          ON t.object_id = p.object_id
        LEFT JOIN sys.allocation_units AS au
          ON au.container_id = p.hobt_id
        GROUP BY s.name, t.name, CAST(sep.value AS nvarchar(max))
        ORDER BY s.name, t.name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	return scanTables(tr)
}

func (mssqlExtractor) Columns(ctx context.Context, dbConn *sql.DB, t introspect.TableMeta) ([]introspect.Column, error) {
	cr, err := dbConn.QueryContext(ctx, `
        SELECT COLUMN_NAME, DATA_TYPE, CASE WHEN IS_NULLABLE='YES' THEN 1 ELSE 0 END
        FROM INFORMATION_SCHEMA.COLUMNS
        WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
        ORDER BY ORDINAL_POSITION`, sql.Named("schema", t.Schema), sql.Named("table", t.Name))
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", t.ID(), err)
	}
	var cols []introspect.Column
	for cr.Next() {
		var col introspect.Column
		var nullableInt int
		if err := cr.Scan(&col.Name, &col.Type, &nullableInt); err != nil {
			cr.Close()
			return nil, fmt.Errorf("scan column for %s: %w", t.ID(), err)
		}
		col.Nullable = nullableInt == 1
		cols = append(cols, col)
	}
	cr.Close()

	markPrimaryKeys(ctx, dbConn, cols, `
        SELECT k.COLUMN_NAME
        FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS t
        JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE k ON t.CONSTRAINT_NAME = k.CONSTRAINT_NAME AND t.TABLE_SCHEMA = k.TABLE_SCHEMA
        WHERE t.CONSTRAINT_TYPE = 'PRIMARY KEY' AND k.TABLE_SCHEMA = @schema AND k.TABLE_NAME = @table`,
		sql.Named("schema", t.Schema), sql.Named("table", t.Name))
	return cols, nil
}

func init() {
	db.Register("sqlserver", mssqlExtractor{})
	db.Register("mssql", mssqlExtractor{})
}
