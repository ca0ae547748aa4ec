package activerecord

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/cache"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
)

// Meta describes one page of results
type Meta struct {
	Total       int64 `json:"total"`
	PerPage     int   `json:"per_page"`
	CurrentPage int   `json:"current_page"`
	LastPage    int   `json:"last_page"`
	From        int64 `json:"from"`
	To          int64 `json:"to"`
}

// Page is the pagination envelope
type Page struct {
	Data []*record.Record `json:"data"`
	Meta Meta             `json:"meta"`
}

// Paginate returns one page of rows matching cond. page is clamped to at
// least 1 and perPage to the configured bounds.
func (m *Model) Paginate(ctx context.Context, page, perPage int, cond sqlgen.Condition, order ...builder.Order) (*Page, error) {
	return m.paginate(ctx, m.query().Where(cond), page, perPage, m.desc.ordering(order))
}

func (m *Model) clamp(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = m.perPage
	}
	if perPage > m.maxPerPage {
		perPage = m.maxPerPage
	}
	return page, perPage
}

func (m *Model) paginate(ctx context.Context, q *builder.Query, page, perPage int, order []builder.Order) (*Page, error) {
	page, perPage = m.clamp(page, perPage)

	total, err := m.cachedCount(ctx, q)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * perPage
	data := make([]*record.Record, 0)
	if int64(offset) < total {
		rows, err := q.Clone().OrderBy(order...).Limit(perPage).Offset(offset).All(ctx)
		if err != nil {
			return nil, err
		}
		if data, err = m.finish(ctx, rows); err != nil {
			return nil, err
		}
	}

	meta := Meta{
		Total:       total,
		PerPage:     perPage,
		CurrentPage: page,
		LastPage:    int((total + int64(perPage) - 1) / int64(perPage)),
	}
	if len(data) > 0 {
		meta.From = int64(offset) + 1
		meta.To = int64(offset + len(data))
	}
	return &Page{Data: data, Meta: meta}, nil
}

// cachedCount counts q's rows through the count cache
func (m *Model) cachedCount(ctx context.Context, q *builder.Query) (int64, error) {
	stmt, err := q.CountStatement("*")
	if err != nil {
		return 0, err
	}
	sql, args, err := stmt.Positional(m.exec.Dialect())
	if err != nil {
		return 0, err
	}
	return m.counts.count(m.desc.table, sql, args, func() (int64, error) {
		return q.Count(ctx)
	})
}

// SearchJoin left joins a related table into a search
type SearchJoin struct {
	Table      string   // "users" or "users u"
	On         string   // "posts.user_id = users.id"
	Select     []string // display columns, e.g. "users.name AS author_name"
	Searchable []string // joined columns matched against the term
}

// SearchOptions configures Search and SearchPaginate
type SearchOptions struct {
	Term       string
	Columns    []string // overrides the descriptor's searchable columns
	Conditions sqlgen.Condition
	Joins      []SearchJoin
	OrderBy    []builder.Order
	Page       int
	PerPage    int
}

// Search returns every row where any searchable column matches term
func (m *Model) Search(ctx context.Context, term string, opts SearchOptions) ([]*record.Record, error) {
	opts.Term = term
	q, order := m.searchQuery(opts)
	rows, err := q.OrderBy(order...).All(ctx)
	if err != nil {
		return nil, err
	}
	return m.finish(ctx, rows)
}

// SearchPaginate is Search returning one page; the total counts the same
// joins and conditions
func (m *Model) SearchPaginate(ctx context.Context, opts SearchOptions) (*Page, error) {
	q, order := m.searchQuery(opts)
	return m.paginate(ctx, q, opts.Page, opts.PerPage, order)
}

func (m *Model) searchQuery(opts SearchOptions) (*builder.Query, []builder.Order) {
	t := m.desc.table
	joined := len(opts.Joins) > 0
	aliases := make(map[string]bool)
	for _, j := range opts.Joins {
		for _, expr := range j.Select {
			if sc, err := sqlgen.ParseSelectColumn(expr); err == nil && sc.Alias != "" {
				aliases[sc.Alias] = true
			}
		}
	}
	qualify := func(col string) string {
		if joined && !strings.Contains(col, ".") && !aliases[col] {
			return t + "." + col
		}
		return col
	}

	q := m.query()
	var columns []string
	for _, c := range opts.Columns {
		columns = append(columns, qualify(c))
	}
	if len(columns) == 0 {
		for _, c := range m.desc.searchable {
			columns = append(columns, qualify(c))
		}
	}
	if joined {
		selects := []string{t + ".*"}
		for _, j := range opts.Joins {
			q.LeftJoin(j.Table, j.On)
			selects = append(selects, j.Select...)
			columns = append(columns, j.Searchable...)
		}
		q.Select(selects...)
	}

	cond := opts.Conditions
	if term := strings.TrimSpace(opts.Term); term != "" && len(columns) > 0 {
		like := m.exec.Dialect().LikeOperator()
		matches := make([]sqlgen.Condition, len(columns))
		for i, c := range columns {
			matches[i] = sqlgen.Where(like, c, term)
		}
		cond = sqlgen.Merge(cond, sqlgen.Or(matches...))
	}
	q.Where(cond)

	order := m.desc.ordering(opts.OrderBy)
	if joined {
		qualified := make([]builder.Order, len(order))
		for i, o := range order {
			qualified[i] = builder.Order{Column: qualify(o.Column), Direction: o.Direction}
		}
		order = qualified
	}
	return q, order
}

// countCache memoizes COUNT(*) results per table generation. Writes bump the
// generation so earlier totals are never read again.
type countCache struct {
	store cache.Store
	ttl   time.Duration
	group singleflight.Group
}

func newCountCache(store cache.Store, ttl time.Duration) *countCache {
	return &countCache{store: store, ttl: ttl}
}

func (c *countCache) generation(table string) int64 {
	v, ok := c.store.Get(cache.Key("gen", table))
	if !ok {
		return 0
	}
	n, err := builder.ToInt64(v)
	if err != nil {
		return 0
	}
	return n
}

// invalidate orphans every cached count for table
func (c *countCache) invalidate(table string) {
	c.store.Set(cache.Key("gen", table), c.generation(table)+1, 0)
	if p, ok := c.store.(interface{ DeletePattern(string) int }); ok {
		p.DeletePattern(cache.Key("count", table, "*"))
	}
}

// InvalidateCounts orphans every total cached for table in store. Callers
// that buffer writes, such as transactions, use it once the writes are
// visible to other readers.
func InvalidateCounts(store cache.Store, table string) {
	newCountCache(store, 0).invalidate(table)
}

func (c *countCache) count(table, sql string, args []any, load func() (int64, error)) (int64, error) {
	key := cache.Key("count", table, strconv.FormatInt(c.generation(table), 10), cache.Hash(sql, args))
	if v, ok := c.store.Get(key); ok {
		if n, err := builder.ToInt64(v); err == nil {
			return n, nil
		}
		c.store.Delete(key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		n, err := load()
		if err != nil {
			return nil, err
		}
		c.store.Set(key, n, c.ttl)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
