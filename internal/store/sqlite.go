// Package store persists canvas layouts and target fields in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tablecomposer/internal/canvas"
	"tablecomposer/internal/logger"
)

// ErrNotFound is returned when no layout is stored for a canvas.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements canvas.Persister.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ canvas.Persister = (*SQLiteStore)(nil)

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway store.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writes
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("store: opened %s", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveGraphLayout replaces the stored layout of canvasID.
func (s *SQLiteStore) SaveGraphLayout(ctx context.Context, canvasID string, nodes []canvas.NodeLayout) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_layout WHERE canvas_id = ?`, canvasID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO graph_layout (canvas_id, node_id, seq, table_ref, kind, table_kind, x, y)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, n := range nodes {
			if _, err := stmt.ExecContext(ctx, canvasID, n.ID, i, n.TableRef, string(n.Kind), n.TableKind, n.Position.X, n.Position.Y); err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

// LoadGraphLayout returns the layout of canvasID in saved order.
func (s *SQLiteStore) LoadGraphLayout(ctx context.Context, canvasID string) ([]canvas.NodeLayout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, table_ref, kind, table_kind, x, y
		FROM graph_layout WHERE canvas_id = ? ORDER BY seq`, canvasID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canvas.NodeLayout
	for rows.Next() {
		var (
			l    canvas.NodeLayout
			kind string
		)
		if err := rows.Scan(&l.ID, &l.TableRef, &kind, &l.TableKind, &l.Position.X, &l.Position.Y); err != nil {
			return nil, err
		}
		if l.Kind, err = canvas.ParseNodeKind(kind); err != nil {
			return nil, fmt.Errorf("node %s: %w", l.ID, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("canvas %s: %w", canvasID, ErrNotFound)
	}
	return out, nil
}

// SaveTargetFields replaces the stored fields of tableID. Fields without an
// id get a new one; the ids are returned in field order.
func (s *SQLiteStore) SaveTargetFields(ctx context.Context, tableID string, fields []canvas.Field) ([]string, error) {
	ids := make([]string, len(fields))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM target_fields WHERE table_id = ?`, tableID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO target_fields (table_id, field_id, seq, name, data_type, primary_key, nullable, comment, field_map)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, f := range fields {
			id := f.ID
			if id == "" {
				id = uuid.NewString()
			}
			var fieldMap sql.NullString
			if f.FieldMap != nil {
				b, err := json.Marshal(f.FieldMap)
				if err != nil {
					return err
				}
				fieldMap = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, tableID, id, i, f.Name, f.DataType, f.PrimaryKey, f.Nullable, f.Comment, fieldMap); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LoadTargetFields returns the stored fields of tableID in saved order.
func (s *SQLiteStore) LoadTargetFields(ctx context.Context, tableID string) ([]canvas.Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_id, name, data_type, primary_key, nullable, comment, field_map
		FROM target_fields WHERE table_id = ? ORDER BY seq`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canvas.Field
	for rows.Next() {
		var (
			f        canvas.Field
			fieldMap sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.DataType, &f.PrimaryKey, &f.Nullable, &f.Comment, &fieldMap); err != nil {
			return nil, err
		}
		if fieldMap.Valid {
			f.FieldMap = &canvas.FieldMap{}
			if err := json.Unmarshal([]byte(fieldMap.String), f.FieldMap); err != nil {
				return nil, fmt.Errorf("field %s: bad field map: %w", f.ID, err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
