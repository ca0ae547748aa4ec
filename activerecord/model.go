package activerecord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satishbabariya/recordkit/connection"
	"github.com/satishbabariya/recordkit/internal/debug"
	"github.com/satishbabariya/recordkit/introspect"
	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/cache"
	"github.com/satishbabariya/recordkit/query/executor"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime"
)

const (
	defaultPerPage    = 15
	defaultMaxPerPage = 100
	defaultCountTTL   = 5 * time.Minute
)

// Model runs table-scoped operations for one Descriptor. A Model is safe for
// concurrent use; With, WithTx and WithDB return modified copies.
type Model struct {
	desc       *Descriptor
	exec       *executor.Executor
	schema     *introspect.Cache
	hooks      Hooks
	registry   *Registry
	counts     *countCache
	actor      ActorFunc
	now        func() time.Time
	logger     *slog.Logger
	perPage    int
	maxPerPage int
	with       []string
}

// ModelOption configures a Model
type ModelOption func(*Model)

// WithHooks sets the lifecycle hooks
func WithHooks(h Hooks) ModelOption {
	return func(m *Model) {
		if h != nil {
			m.hooks = h
		}
	}
}

// WithRegistry sets the registry used to resolve related entities
func WithRegistry(r *Registry) ModelOption {
	return func(m *Model) { m.registry = r }
}

// WithCountStore sets the store backing cached pagination totals and how
// long each total lives
func WithCountStore(store cache.Store, ttl time.Duration) ModelOption {
	return func(m *Model) {
		if ttl <= 0 {
			ttl = defaultCountTTL
		}
		m.counts = newCountCache(store, ttl)
	}
}

// WithActor sets the accessor for the current user id written to
// created-by and updated-by columns
func WithActor(fn ActorFunc) ModelOption {
	return func(m *Model) { m.actor = fn }
}

// WithClock replaces the time source for audit timestamps
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) { m.now = now }
}

// WithLogger sets the logger for persistence failures
func WithLogger(l *slog.Logger) ModelOption {
	return func(m *Model) { m.logger = l }
}

// WithPagination sets the default and maximum page sizes
func WithPagination(perPage, maxPerPage int) ModelOption {
	return func(m *Model) {
		if perPage > 0 {
			m.perPage = perPage
		}
		if maxPerPage > 0 {
			m.maxPerPage = maxPerPage
		}
	}
}

// NewModel binds desc to an open connection
func NewModel(desc *Descriptor, conn *connection.Handle, opts ...ModelOption) *Model {
	m := &Model{
		desc:       desc,
		exec:       conn.Executor,
		schema:     conn.Schema,
		hooks:      NopHooks{},
		now:        time.Now,
		perPage:    defaultPerPage,
		maxPerPage: defaultMaxPerPage,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.counts == nil {
		m.counts = newCountCache(cache.NewLRUCache(0), defaultCountTTL)
	}
	if m.maxPerPage < m.perPage {
		m.maxPerPage = m.perPage
	}
	m.logger = debug.Or(m.logger).With("table", desc.table)
	return m
}

// Descriptor returns the entity definition
func (m *Model) Descriptor() *Descriptor { return m.desc }

// Executor returns the executor the model runs on
func (m *Model) Executor() *executor.Executor { return m.exec }

// With returns a copy that eager loads the given relation specifiers:
// "author", "author:id,name" or nested "comments.author"
func (m *Model) With(relations ...string) *Model {
	c := *m
	c.with = append(append([]string(nil), m.with...), relations...)
	return &c
}

// WithTx returns a copy running inside an externally managed transaction
func (m *Model) WithTx(tx *sql.Tx) *Model {
	return m.WithDB(tx)
}

// WithDB returns a copy running on db
func (m *Model) WithDB(db executor.DB) *Model {
	c := *m
	c.exec = m.exec.WithDB(db)
	return &c
}

func (m *Model) query() *builder.Query {
	return builder.New(m.exec).From(m.desc.table)
}

func (m *Model) table(ctx context.Context) (*introspect.Table, error) {
	return m.schema.Table(ctx, m.exec.DB(), m.desc.table)
}

// projection validates requested columns against the live table
func (m *Model) projection(ctx context.Context, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	table, err := m.table(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range columns {
		if c == "*" {
			continue
		}
		if err := sqlgen.CheckIdentifier(c, "column"); err != nil {
			return nil, err
		}
		if !table.HasColumn(c) {
			return nil, runtime.NewInvalidIdentifier(c, "column of "+m.desc.table)
		}
	}
	return columns, nil
}

// All returns every row, ordered by order, the default order or the
// primary key descending
func (m *Model) All(ctx context.Context, columns []string, order ...builder.Order) ([]*record.Record, error) {
	return m.Where(ctx, nil, columns, order...)
}

// Where returns the rows matching cond
func (m *Model) Where(ctx context.Context, cond sqlgen.Condition, columns []string, order ...builder.Order) ([]*record.Record, error) {
	cols, err := m.projection(ctx, columns)
	if err != nil {
		return nil, err
	}
	rows, err := m.query().
		Select(cols...).
		Where(cond).
		OrderBy(m.desc.ordering(order)...).
		All(ctx)
	if err != nil {
		return nil, err
	}
	return m.finish(ctx, rows)
}

// First returns the first row matching cond in default order, or nil
func (m *Model) First(ctx context.Context, cond sqlgen.Condition, columns ...string) (*record.Record, error) {
	cols, err := m.projection(ctx, columns)
	if err != nil {
		return nil, err
	}
	row, err := m.query().
		Select(cols...).
		Where(cond).
		OrderBy(m.desc.ordering(nil)...).
		One(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	return m.finishOne(ctx, row)
}

// Find looks a row up by primary key. id is a scalar for single keys; a
// composite key takes a map of every key column or a "v1_v2" string.
// A missing row or an incomplete key yields nil without error.
func (m *Model) Find(ctx context.Context, id any) (*record.Record, error) {
	cond, err := m.keyCondition(id)
	if errors.Is(err, runtime.ErrIncompleteKey) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row, err := m.query().Where(cond).One(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	return m.finishOne(ctx, row)
}

// Count returns the number of rows matching cond
func (m *Model) Count(ctx context.Context, cond sqlgen.Condition) (int64, error) {
	return m.query().Where(cond).Count(ctx)
}

// Exists reports whether any row matches cond
func (m *Model) Exists(ctx context.Context, cond sqlgen.Condition) (bool, error) {
	return m.query().Where(cond).Exists(ctx)
}

func (m *Model) finishOne(ctx context.Context, row *record.Record) (*record.Record, error) {
	rows, err := m.finish(ctx, []*record.Record{row})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// finish attaches requested relations, strips hidden columns and runs the
// AfterLoad hook
func (m *Model) finish(ctx context.Context, rows []*record.Record) ([]*record.Record, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	var keep map[string]bool
	if len(m.with) > 0 {
		specs := parseRelationSpecs(m.with)
		if err := m.loader().attach(ctx, m.desc, rows, specs); err != nil {
			return nil, err
		}
		keep = specNames(specs)
	}
	stripHidden(m.desc, rows, keep)
	return m.hooks.AfterLoad(ctx, rows), nil
}

func (m *Model) loader() *loader {
	return &loader{exec: m.exec, registry: m.registry}
}

// keyCondition builds primary key equality conditions
func (m *Model) keyCondition(id any) (sqlgen.Map, error) {
	pk := m.desc.primaryKey
	cond := make(sqlgen.Map, len(pk))

	var values map[string]any
	switch v := id.(type) {
	case map[string]any:
		values = v
	case sqlgen.Map:
		values = v
	case *record.Record:
		if v != nil {
			values = v.Map()
		}
	}
	if values != nil {
		for _, col := range pk {
			val, ok := values[col]
			if !ok || val == nil {
				return nil, fmt.Errorf("%w: missing %s", runtime.ErrIncompleteKey, col)
			}
			cond[col] = val
		}
		return cond, nil
	}

	if id == nil {
		return nil, fmt.Errorf("%w: nil id", runtime.ErrIncompleteKey)
	}
	if len(pk) == 1 {
		cond[pk[0]] = id
		return cond, nil
	}

	s, ok := id.(string)
	if !ok {
		return nil, fmt.Errorf("%w: composite key needs a map or a joined string, got %T", runtime.ErrIncompleteKey, id)
	}
	parts := strings.Split(s, "_")
	if len(parts) != len(pk) {
		return nil, fmt.Errorf("%w: %q has %d of %d parts", runtime.ErrIncompleteKey, s, len(parts), len(pk))
	}
	for i, col := range pk {
		if parts[i] == "" {
			return nil, fmt.Errorf("%w: empty %s", runtime.ErrIncompleteKey, col)
		}
		cond[col] = parts[i]
	}
	return cond, nil
}

// stripHidden removes desc's hidden columns, leaving attached relations in keep
func stripHidden(desc *Descriptor, rows []*record.Record, keep map[string]bool) {
	if desc == nil || len(desc.hidden) == 0 {
		return
	}
	for _, row := range rows {
		for _, col := range desc.hidden {
			if !keep[col] {
				row.Delete(col)
			}
		}
	}
}
