package activerecord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime"
)

func seedBlog(t *testing.T, f *fixture) {
	t.Helper()
	f.exec(t, `INSERT INTO users (id, username, password) VALUES (1, 'ana', 's1'), (2, 'ben', 's2'), (3, 'cy', 's3')`)
	f.exec(t, `INSERT INTO posts (id, user_id, title) VALUES (1, 1, 'first'), (2, 1, 'second'), (3, 1, 'third'), (4, 2, 'fourth'), (5, NULL, 'orphan')`)
	f.exec(t, `INSERT INTO comments (post_id, user_id, body) VALUES (1, 2, 'nice'), (1, 3, 'meh'), (4, 1, 'ok')`)
	f.exec(t, `INSERT INTO tags (id, name) VALUES (1, 'go'), (2, 'sql'), (3, 'web')`)
	f.exec(t, `INSERT INTO post_tag (post_id, tag_id) VALUES (1, 2), (1, 1), (4, 3)`)
}

func TestParseRelationSpecs(t *testing.T) {
	specs := parseRelationSpecs([]string{"author:id,name", "comments.user", "author:email", " ", "tags", "comments:id"})
	require.Len(t, specs, 3)

	assert.Equal(t, "author", specs[0].name)
	assert.Equal(t, []string{"id", "name", "email"}, specs[0].columns)
	assert.False(t, specs[0].all)

	assert.Equal(t, "comments", specs[1].name)
	assert.Equal(t, []string{"user"}, specs[1].nested)
	assert.Equal(t, []string{"id"}, specs[1].columns)

	assert.Equal(t, "tags", specs[2].name)
	assert.True(t, specs[2].all)

	only := parseRelationSpecs([]string{"comments.user.posts"})
	require.Len(t, only, 1)
	assert.True(t, only[0].all)
	assert.Equal(t, []string{"user.posts"}, only[0].nested)

	assert.Equal(t, map[string]bool{"author": true, "comments": true, "tags": true}, specNames(specs))
}

func TestEagerLoad_BelongsToSingleQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)
	posts := f.model(f.posts)

	f.stats.Reset()
	rows, err := posts.With("author").Where(ctx, sqlgen.Map{"user_id": 1}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), f.stats.Snapshot().Queries)

	for _, row := range rows {
		author, ok := row.Value("author").(*record.Record)
		require.True(t, ok)
		assert.Equal(t, "ana", author.Value("username"))
		assert.False(t, author.Has("password"), "related hidden columns are stripped")
	}
}

func TestEagerLoad_NullKeysSkipQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	f.stats.Reset()
	row, err := f.model(f.posts).With("author").Find(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.Has("author"))
	assert.Nil(t, row.Value("author"))
	assert.Equal(t, int64(1), f.stats.Snapshot().Queries)
}

func TestEagerLoad_HasMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	rows, err := f.model(f.users).With("posts:id,title").All(ctx, nil, builder.Asc("id"))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	ana := rows[0].Value("posts").([]*record.Record)
	assert.Equal(t, []any{"first", "second", "third"}, record.Pluck(ana, "title"))
	assert.Equal(t, []string{"id", "title", "user_id"}, ana[0].Keys())

	ben := rows[1].Value("posts").([]*record.Record)
	assert.Len(t, ben, 1)

	cy := rows[2].Value("posts").([]*record.Record)
	assert.NotNil(t, cy)
	assert.Empty(t, cy)
}

func TestEagerLoad_ChunkedKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	saved := keysPerQuery
	keysPerQuery = 2
	t.Cleanup(func() { keysPerQuery = saved })

	f.stats.Reset()
	rows, err := f.model(f.users).With("posts:id,title").All(ctx, nil, builder.Asc("id"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), f.stats.Snapshot().Queries, "one query for users, two for the key chunks")

	titles := make([][]any, len(rows))
	for i, row := range rows {
		titles[i] = record.Pluck(row.Value("posts").([]*record.Record), "title")
	}
	assert.Equal(t, [][]any{{"first", "second", "third"}, {"fourth"}, {}}, titles)
}

func TestEagerLoad_BelongsToMany(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	rows, err := f.model(f.posts).With("tags").All(ctx, nil, builder.Asc("id"))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	first := rows[0].Value("tags").([]*record.Record)
	assert.Equal(t, []any{"go", "sql"}, record.Pluck(first, "name"))
	assert.False(t, first[0].Has(pivotKeyColumn))

	assert.Empty(t, rows[1].Value("tags"))
	fourth := rows[3].Value("tags").([]*record.Record)
	assert.Equal(t, []any{"web"}, record.Pluck(fourth, "name"))

	narrow, err := f.model(f.posts).With("tags:name").Find(ctx, 1)
	require.NoError(t, err)
	tags := narrow.Value("tags").([]*record.Record)
	require.Len(t, tags, 2)
	assert.Equal(t, []string{"name"}, tags[0].Keys())
}

func TestEagerLoad_Nested(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	f.stats.Reset()
	row, err := f.model(f.posts).With("comments.user", "author").Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	// post, comments, comment users, author
	assert.Equal(t, int64(4), f.stats.Snapshot().Queries)

	comments := row.Value("comments").([]*record.Record)
	require.Len(t, comments, 2)
	var names []any
	for _, c := range comments {
		u := c.Value("user").(*record.Record)
		names = append(names, u.Value("username"))
		assert.False(t, u.Has("password"))
	}
	assert.ElementsMatch(t, []any{"ben", "cy"}, names)
	assert.Equal(t, "ana", row.Value("author").(*record.Record).Value("username"))
}

func TestEagerLoad_HiddenForeignKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	posts := MustDescriptor("posts",
		WithHidden("user_id"),
		WithRelations(BelongsTo("author", "users")),
	)
	row, err := f.model(posts).With("author").Find(ctx, 4)
	require.NoError(t, err)
	assert.False(t, row.Has("user_id"))
	assert.Equal(t, "ben", row.Value("author").(*record.Record).Value("username"))
}

func TestEagerLoad_UnknownRelation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBlog(t, f)

	_, err := f.model(f.posts).With("editor").All(ctx, nil)
	assert.ErrorIs(t, err, runtime.ErrUnknownRelation)

	unregistered := NewModel(f.posts, f.conn)
	_, err = unregistered.With("author.posts").All(ctx, nil)
	assert.ErrorIs(t, err, runtime.ErrUnknownRelation)
}

func TestRelationDefaults(t *testing.T) {
	d := MustDescriptor("posts", WithRelations(
		BelongsTo("author", "users"),
		HasMany("comments", "comments"),
		BelongsToMany("categories", "categories"),
		BelongsTo("editor", "users", LocalKey("editor_id"), Columns("id", "username")),
	))

	author, ok := d.Relation("author")
	require.True(t, ok)
	assert.Equal(t, "user_id", author.LocalKey)
	assert.Equal(t, "id", author.ForeignKey)

	comments, _ := d.Relation("comments")
	assert.Equal(t, "id", comments.LocalKey)
	assert.Equal(t, "post_id", comments.ForeignKey)

	cats, _ := d.Relation("categories")
	assert.Equal(t, "category_post", cats.PivotTable)
	assert.Equal(t, "post_id", cats.PivotLocalKey)
	assert.Equal(t, "category_id", cats.PivotForeignKey)

	editor, _ := d.Relation("editor")
	assert.Equal(t, "editor_id", editor.LocalKey)
	assert.Equal(t, []string{"id", "username"}, editor.Columns)

	_, err := NewDescriptor("posts", WithRelations(HasMany("x", "users"), HasMany("x", "tags")))
	assert.Error(t, err)

	_, err = NewDescriptor("posts", WithRelations(BelongsTo("author", "users; --")))
	assert.ErrorIs(t, err, runtime.ErrInvalidIdentifier)
}

func TestDescriptorDefaults(t *testing.T) {
	d := MustDescriptor("users")
	assert.Equal(t, []string{"id"}, d.PrimaryKey())
	assert.False(t, d.IsComposite())
	assert.Equal(t, []builder.Order{builder.Desc("id")}, d.ordering(nil))

	d = MustDescriptor("users", WithDefaultOrder(builder.Asc("username")))
	assert.Equal(t, []builder.Order{builder.Asc("username")}, d.ordering(nil))
	assert.Equal(t, []builder.Order{builder.Desc("email")}, d.ordering([]builder.Order{builder.Desc("email")}))

	_, err := NewDescriptor("users", WithPrimaryKey())
	assert.Error(t, err)
	_, err = NewDescriptor("users", WithFillable("name`"))
	assert.ErrorIs(t, err, runtime.ErrInvalidIdentifier)

	assert.Panics(t, func() { MustDescriptor("bad table") })

	r := NewRegistry(d)
	got, ok := r.Lookup("users")
	assert.True(t, ok)
	assert.Same(t, d, got)
	var nilRegistry *Registry
	_, ok = nilRegistry.Lookup("users")
	assert.False(t, ok)
}
