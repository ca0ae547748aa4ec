// Package executor runs compiled statements and scans rows into records.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/internal/debug"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/telemetry"
)

// DB is the subset of *sql.DB and *sql.Tx the executor needs
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Executor executes statements against one handle in one dialect
type Executor struct {
	db       DB
	d        dialect.Dialect
	logger   *slog.Logger
	recorder telemetry.Recorder
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the statement logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithRecorder sets the telemetry recorder
func WithRecorder(r telemetry.Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// New creates a new executor
func New(db DB, d dialect.Dialect, opts ...Option) *Executor {
	e := &Executor{db: db, d: d, recorder: telemetry.Nop{}}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = debug.Or(e.logger)
	return e
}

// Dialect returns the executor's dialect
func (e *Executor) Dialect() dialect.Dialect { return e.d }

// DB returns the underlying handle
func (e *Executor) DB() DB { return e.db }

// Logger returns the executor's logger
func (e *Executor) Logger() *slog.Logger { return e.logger }

// WithDB returns a copy bound to db, typically a *sql.Tx
func (e *Executor) WithDB(db DB) *Executor {
	c := *e
	c.db = db
	return &c
}

// Query runs a SELECT and returns every row
func (e *Executor) Query(ctx context.Context, stmt sqlgen.Statement) ([]*record.Record, error) {
	query, args, err := stmt.Positional(e.d)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		e.record(ctx, query, args, start, err, false)
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	e.record(ctx, query, args, start, err, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Exec runs a write statement
func (e *Executor) Exec(ctx context.Context, stmt sqlgen.Statement) (sql.Result, error) {
	query, args, err := stmt.Positional(e.d)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.db.ExecContext(ctx, query, args...)
	e.record(ctx, query, args, start, err, true)
	return res, err
}

func (e *Executor) record(ctx context.Context, query string, args []any, start time.Time, err error, exec bool) {
	elapsed := time.Since(start)
	e.logger.DebugContext(ctx, "executed statement", "sql", query, "args", len(args), "duration", elapsed)
	e.recorder.RecordQuery(ctx, telemetry.QueryInfo{SQL: query, Args: args, Duration: elapsed, Err: err, Exec: exec})
}

// scanRecords reads rows into records keyed by column name
func scanRecords(rows *sql.Rows) ([]*record.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	jsonCols := jsonColumns(rows, len(columns))

	out := make([]*record.Record, 0)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for rows.Next() {
		for i := range values {
			values[i] = nil
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		rec := record.New()
		for i, col := range columns {
			rec.Set(col, normalize(values[i], jsonCols[i]))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// jsonColumns flags JSON and JSONB columns. Drivers without column
// metadata may panic inside ColumnTypes; those get no JSON decoding.
func jsonColumns(rows *sql.Rows, n int) (flags []bool) {
	flags = make([]bool, n)
	defer func() {
		if recover() != nil {
			flags = make([]bool, n)
		}
	}()
	types, err := rows.ColumnTypes()
	if err != nil {
		return flags
	}
	for i, ct := range types {
		switch strings.ToUpper(ct.DatabaseTypeName()) {
		case "JSON", "JSONB":
			flags[i] = true
		}
	}
	return flags
}

// normalize converts driver values into plain scalars; JSON columns decode
// into nested values and fall back to the raw string when malformed.
func normalize(v any, isJSON bool) any {
	var s string
	switch vv := v.(type) {
	case []byte:
		s = string(vv)
	case string:
		s = vv
	default:
		return v
	}
	if isJSON {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			return decoded
		}
	}
	return s
}
