package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/execution"
	"github.com/roach88/finder/internal/ir"
)

// Store is a SQLite-backed query session.
type Store struct {
	db     *sql.DB
	model  *ir.Metamodel
	conv   *convert.Table
	logger *slog.Logger

	mu         sync.Mutex
	tracked    map[string]ir.Record // loaded entities by entity#id
	procedures map[string]ProcedureDef
}

var (
	_ execution.Session = (*Store)(nil)
	_ execution.TxProbe = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithConverter sets the table used to convert column values to property
// types.
func WithConverter(conv *convert.Table) Option {
	return func(s *Store) {
		s.conv = conv
	}
}

// WithLogger sets the logger for executed SQL (debug level).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - case-sensitive LIKE, matching the query language
func Open(path string, model *ir.Metamodel, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{
		db:         db,
		model:      model,
		conv:       convert.Default(),
		logger:     slog.Default(),
		tracked:    make(map[string]ir.Record),
		procedures: make(map[string]ProcedureDef),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA case_sensitive_like = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// CreateSchema creates a table for every non-embeddable entity of the
// model that does not exist yet. A property named "id" becomes the
// primary key.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, e := range s.model.Entities() {
		if e.Embeddable {
			continue
		}
		var cols []string
		for _, p := range e.Columns() {
			col := p.Column + " " + sqlType(p.Type())
			if len(p.Segments) == 1 && p.Segments[0] == "id" {
				col += " PRIMARY KEY"
			}
			cols = append(cols, col)
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", e.TableName(), strings.Join(cols, ", "))
		if _, err := s.conn(ctx).ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", e.TableName(), err)
		}
	}
	return nil
}

func sqlType(t ir.TypeRef) string {
	switch t.Kind {
	case ir.KindInt, ir.KindInt64, ir.KindBool:
		return "INTEGER"
	case ir.KindFloat:
		return "REAL"
	case ir.KindTime:
		return "DATETIME"
	case ir.KindBytes:
		return "BLOB"
	}
	return "TEXT"
}

// Insert writes one entity record keyed by dotted property path. Missing
// properties are stored as NULL.
func (s *Store) Insert(ctx context.Context, entity string, rec ir.Record) error {
	e, ok := s.model.Entity(entity)
	if !ok {
		return fmt.Errorf("insert: unknown entity %q", entity)
	}
	var (
		cols []string
		phs  []string
		args []any
	)
	for i, p := range e.Columns() {
		v, ok := rec[p.String()]
		if !ok {
			continue
		}
		sv, err := sqlValue(v)
		if err != nil {
			return fmt.Errorf("insert %s.%s: %w", entity, p, err)
		}
		cols = append(cols, p.Column)
		phs = append(phs, fmt.Sprintf(":c%d", i))
		args = append(args, sql.Named(fmt.Sprintf("c%d", i), sv))
	}
	for key := range rec {
		if _, err := e.ResolveDotted(key); err != nil {
			return fmt.Errorf("insert %s: %w", entity, err)
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", e.TableName(), strings.Join(cols, ", "), strings.Join(phs, ", "))
	if _, err := s.conn(ctx).ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %s: %w", entity, err)
	}
	return nil
}

// sqlValue converts a bound Go value to a driver value. Collections and
// records are stored as JSON text.
func sqlValue(v any) (any, error) {
	switch convert.KindOf(v) {
	case ir.KindCollection, ir.KindEntity:
		if _, ok := v.([]byte); ok {
			return v, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return v, nil
}

type txKey struct{}

// InTx runs fn inside a transaction carried by the context passed to fn.
// Nested calls join the outer transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.ActiveTransaction(ctx) {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Warn("rollback failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ActiveTransaction reports whether ctx carries a transaction from InTx.
func (s *Store) ActiveTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// conn returns the transaction carried by ctx, or the database.
func (s *Store) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Flush is a no-op: every statement is written when it executes.
func (s *Store) Flush(context.Context) error { return nil }

// Clear forgets every loaded entity, so later loads observe the database
// again.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tracked)
}

// Tracked returns the number of loaded entities.
func (s *Store) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// track returns the already loaded instance of an entity record, or
// records rec as loaded. Records without an id are not tracked.
func (s *Store) track(e *ir.Entity, rec ir.Record) ir.Record {
	id, ok := rec["id"]
	if !ok || id == nil {
		return rec
	}
	key := fmt.Sprintf("%s#%v", e.Name, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tracked[key]; ok {
		return prev
	}
	s.tracked[key] = rec
	return rec
}

// CreateQuery parses text and returns an unexecuted query. Explicit
// queries use the entity query language; native queries are SQL.
func (s *Store) CreateQuery(ctx context.Context, text string, resultType ir.TypeRef, native bool) (execution.Query, error) {
	var (
		stmt *statement
		err  error
	)
	if native {
		stmt, err = parseNative(s.model, text, resultType)
	} else {
		stmt, err = parseStatement(s.model, text)
	}
	if err != nil {
		return nil, err
	}
	return newQuery(s, stmt), nil
}
