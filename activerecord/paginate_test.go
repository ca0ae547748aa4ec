package activerecord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/cache"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
)

func seedUsers(t *testing.T, f *fixture, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		f.exec(t, `INSERT INTO users (username, email) VALUES (?, ?)`, fmt.Sprintf("user%02d", i), fmt.Sprintf("u%d@x", i))
	}
}

func TestPaginate_Boundaries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedUsers(t, f, 23)
	users := f.model(f.users)

	tests := []struct {
		name          string
		page, perPage int
		wantLen       int
		wantPage      int
		wantPerPage   int
		wantFrom      int64
		wantTo        int64
		wantLastPage  int
	}{
		{"first page", 1, 10, 10, 1, 10, 1, 10, 3},
		{"last partial page", 3, 10, 3, 3, 10, 21, 23, 3},
		{"past the end", 4, 10, 0, 4, 10, 0, 0, 3},
		{"page clamps to one", -2, 10, 10, 1, 10, 1, 10, 3},
		{"per page defaults", 1, 0, 15, 1, 15, 1, 15, 2},
		{"per page is capped", 1, 500, 23, 1, 100, 1, 23, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := users.Paginate(ctx, tt.page, tt.perPage, nil)
			require.NoError(t, err)
			assert.Len(t, page.Data, tt.wantLen)
			assert.NotNil(t, page.Data)
			assert.Equal(t, Meta{
				Total:       23,
				PerPage:     tt.wantPerPage,
				CurrentPage: tt.wantPage,
				LastPage:    tt.wantLastPage,
				From:        tt.wantFrom,
				To:          tt.wantTo,
			}, page.Meta)
		})
	}
}

func TestPaginate_EmptyTable(t *testing.T) {
	f := newFixture(t)
	page, err := f.model(f.users).Paginate(context.Background(), 1, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, Meta{PerPage: 10, CurrentPage: 1}, page.Meta)

	out, err := json.Marshal(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"meta":{"total":0,"per_page":10,"current_page":1,"last_page":0,"from":0,"to":0}}`, string(out))
}

func TestPaginate_OrderAndHidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedUsers(t, f, 5)
	f.exec(t, `UPDATE users SET password = 'x'`)
	users := f.model(f.users, WithPagination(2, 4))

	page, err := users.Paginate(ctx, 1, 0, sqlgen.Where("!=", "username", "user03"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Meta.Total)
	assert.Equal(t, []any{"user05", "user04"}, record.Pluck(page.Data, "username"))
	assert.False(t, page.Data[0].Has("password"))

	page, err = users.Paginate(ctx, 2, 9, nil, builder.Asc("username"))
	require.NoError(t, err)
	assert.Equal(t, 4, page.Meta.PerPage)
	assert.Equal(t, []any{"user05"}, record.Pluck(page.Data, "username"))
}

func TestPaginate_CachedTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedUsers(t, f, 12)
	users := f.model(f.users)

	f.stats.Reset()
	first, err := users.Paginate(ctx, 1, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.stats.Snapshot().Queries, "count and data")

	f.stats.Reset()
	second, err := users.Paginate(ctx, 1, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.stats.Snapshot().Queries, "total comes from the cache")
	assert.Equal(t, first.Meta, second.Meta)
	assert.Equal(t, record.Pluck(first.Data, "id"), record.Pluck(second.Data, "id"))

	// a different condition is counted separately
	f.stats.Reset()
	_, err = users.Paginate(ctx, 1, 5, sqlgen.Map{"username": "user01"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.stats.Snapshot().Queries)

	_, err = users.Create(ctx, map[string]any{"username": "late"})
	require.NoError(t, err)

	f.stats.Reset()
	third, err := users.Paginate(ctx, 1, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.stats.Snapshot().Queries, "writes invalidate cached totals")
	assert.Equal(t, int64(13), third.Meta.Total)
}

func TestCountCache_Generations(t *testing.T) {
	store := cache.NewLRUCache(16)
	c := newCountCache(store, time.Minute)

	calls := 0
	load := func() (int64, error) {
		calls++
		return int64(calls * 10), nil
	}

	n, err := c.count("users", "SELECT COUNT(*)", nil, load)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = c.count("users", "SELECT COUNT(*)", nil, load)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, 1, calls)

	c.invalidate("posts")
	n, _ = c.count("users", "SELECT COUNT(*)", nil, load)
	assert.Equal(t, int64(10), n, "other tables keep their totals")

	c.invalidate("users")
	assert.Equal(t, int64(1), c.generation("users"))
	n, _ = c.count("users", "SELECT COUNT(*)", nil, load)
	assert.Equal(t, int64(20), n)
	assert.Equal(t, 2, calls)

	_, err = c.count("users", "SELECT broken", nil, func() (int64, error) { return 0, assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCountCache_Concurrent(t *testing.T) {
	c := newCountCache(cache.NewLRUCache(16), time.Minute)

	var (
		mu    sync.Mutex
		calls int
		wg    sync.WaitGroup
	)
	release := make(chan struct{})
	load := func() (int64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return 7, nil
	}

	results := make([]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := c.count("users", "SELECT COUNT(*)", nil, load)
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, n := range results {
		assert.Equal(t, int64(7), n)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, calls, 8)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)
	users := f.model(f.users)

	rows, err := users.Search(ctx, "an", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"ana"}, record.Pluck(rows, "username"))

	rows, err = users.Search(ctx, "", SearchOptions{OrderBy: []builder.Order{builder.Asc("id")}})
	require.NoError(t, err)
	assert.Len(t, rows, 3, "an empty term matches everything")

	rows, err = users.Search(ctx, "n", SearchOptions{Conditions: sqlgen.Where(">", "id", 1)})
	require.NoError(t, err)
	assert.Equal(t, []any{"ben"}, record.Pluck(rows, "username"))

	rows, err = users.Search(ctx, "y", SearchOptions{Columns: []string{"username"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"cy"}, record.Pluck(rows, "username"))
}

func TestSearchPaginate_Join(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec(t, `INSERT INTO users (id, username) VALUES (1, 'dana'), (2, 'hannah'), (3, 'zed')`)
	f.exec(t, `INSERT INTO posts (id, user_id, title) VALUES (1, 1, 'hello'), (2, 2, 'world'), (3, 3, 'other'), (4, NULL, 'lonely')`)
	posts := f.model(f.posts)

	page, err := posts.SearchPaginate(ctx, SearchOptions{
		Term: "an",
		Joins: []SearchJoin{{
			Table:      "users",
			On:         "posts.user_id = users.id",
			Select:     []string{"users.username AS author_name"},
			Searchable: []string{"users.username"},
		}},
		Page:    1,
		PerPage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Meta.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, []any{"world", "hello"}, record.Pluck(page.Data, "title"))
	assert.Equal(t, []any{"hannah", "dana"}, record.Pluck(page.Data, "author_name"))

	page, err = posts.SearchPaginate(ctx, SearchOptions{
		Term: "an",
		Joins: []SearchJoin{{
			Table:      "users",
			On:         "posts.user_id = users.id",
			Select:     []string{"users.username AS author_name"},
			Searchable: []string{"users.username"},
		}},
		OrderBy: []builder.Order{builder.Asc("author_name")},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"dana", "hannah"}, record.Pluck(page.Data, "author_name"), "display aliases stay unqualified")
	assert.Equal(t, []any{"hello", "world"}, record.Pluck(page.Data, "title"))

	page, err = posts.SearchPaginate(ctx, SearchOptions{
		Term:  "lone",
		Joins: []SearchJoin{{Table: "users", On: "posts.user_id = users.id", Select: []string{"users.username AS author_name"}}},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Nil(t, page.Data[0].Value("author_name"), "left join keeps rows without a match")
}
