package extractors

import (
	"context"
	"database/sql"
	"fmt"

	"tablecomposer/internal/introspect"
	"tablecomposer/internal/logger"
)

// scanTables reads (schema, name, comment, size) rows.
func scanTables(rows *sql.Rows) ([]introspect.TableMeta, error) {
	defer rows.Close()
	var tables []introspect.TableMeta
	for rows.Next() {
		var tab introspect.TableMeta
		if err := rows.Scan(&tab.Schema, &tab.Name, &tab.Comment, &tab.Size8kPages); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, tab)
	}
	return tables, rows.Err()
}

// markPrimaryKeys runs a query returning primary key column names and flags the
// matching columns. Failures are logged, not returned: a table without key
// information still renders.
func markPrimaryKeys(ctx context.Context, dbConn *sql.DB, cols []introspect.Column, query string, args ...any) {
	pkr, err := dbConn.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("query primary key: %v", err)
		return
	}
	defer pkr.Close()
	for pkr.Next() {
		var pkcol string
		if err := pkr.Scan(&pkcol); err != nil {
			logger.Error("scan primary key: %v", err)
			continue
		}
		for j := range cols {
			if cols[j].Name == pkcol {
				cols[j].PK = true
			}
		}
	}
}
