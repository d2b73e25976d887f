package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"tablecomposer/internal/introspect"
	"tablecomposer/pkg/config"
)

// ErrTableNotFound is returned when a table id names no table of the source.
var ErrTableNotFound = errors.New("table not found")

type Extractor interface {

	// Tables lists the user tables of the database.
	Tables(ctx context.Context, db *sql.DB) ([]introspect.TableMeta, error)

	// Columns returns the columns of t in ordinal order with primary keys marked.
	Columns(ctx context.Context, db *sql.DB, t introspect.TableMeta) ([]introspect.Column, error)
}

var dialects = map[string]Extractor{}

// Register makes an Extractor available under name.
func Register(name string, e Extractor) {
	dialects[strings.ToLower(name)] = e
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	keys := make([]string, 0, len(dialects))
	for k := range dialects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}

// Source loads table and field metadata from a live database.
type Source struct {
	db        *sql.DB
	extractor Extractor
	timeout   time.Duration
}

// Open connects to the database and returns a Source for it.
func Open(driver, dsn string, timeoutSec int) (*Source, error) {
	driver = config.NormalizeDriver(driver)
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", driver, listRegistered())
	}
	dbConn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSource(dbConn, driver, timeoutSec)
	if err != nil {
		dbConn.Close()
		return nil, err
	}
	ctx, cancel := s.withTimeout(context.Background())
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		dbConn.Close()
		return nil, err
	}
	return s, nil
}

// NewSource wraps an open connection. The dialect must be registered.
func NewSource(dbConn *sql.DB, dialect string, timeoutSec int) (*Source, error) {
	extractor, ok := dialects[config.NormalizeDriver(dialect)]
	if !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", dialect, listRegistered())
	}
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Source{db: dbConn, extractor: extractor, timeout: time.Duration(timeoutSec) * time.Second}, nil
}

func (s *Source) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Close closes the underlying connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// ListTables returns every user table of the source.
func (s *Source) ListTables(ctx context.Context) ([]introspect.TableMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.extractor.Tables(ctx, s.db)
}

// LoadTable returns the metadata of the table with the given id.
func (s *Source) LoadTable(ctx context.Context, tableID string) (introspect.TableMeta, error) {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return introspect.TableMeta{}, err
	}
	for _, t := range tables {
		if t.ID() == tableID {
			return t, nil
		}
	}
	return introspect.TableMeta{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
}

// LoadFields returns the columns of the table with the given id, at most limit
// of them when limit > 0. The table is resolved through the listing, so names
// containing dots keep their schema.
func (s *Source) LoadFields(ctx context.Context, tableID string, limit int) ([]introspect.Column, error) {
	meta, err := s.LoadTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cols, err := s.extractor.Columns(ctx, s.db, meta)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if limit > 0 && len(cols) > limit {
		cols = cols[:limit]
	}
	return cols, nil
}
