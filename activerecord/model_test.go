package activerecord

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/recordkit/config"
	"github.com/satishbabariya/recordkit/connection"
	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/executor"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime"
	"github.com/satishbabariya/recordkit/telemetry"
)

const testSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	email TEXT,
	password TEXT,
	role TEXT NOT NULL DEFAULT 'member',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT,
	updated_at TEXT,
	created_by INTEGER,
	updated_by INTEGER
);
CREATE TABLE posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER REFERENCES users(id),
	title TEXT NOT NULL,
	body TEXT,
	created_at INTEGER,
	updated_at INTEGER
);
CREATE TABLE comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL,
	user_id INTEGER,
	body TEXT
);
CREATE TABLE tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE post_tag (
	post_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	PRIMARY KEY (post_id, tag_id)
);
CREATE TABLE tokens (
	id TEXT PRIMARY KEY,
	label TEXT
);
`

type fixture struct {
	conn     *connection.Handle
	stats    *telemetry.Stats
	registry *Registry

	users    *Descriptor
	posts    *Descriptor
	comments *Descriptor
	tags     *Descriptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	stats := telemetry.NewStats()
	p := connection.NewProvider(config.DatabaseConfig{
		Default: "main",
		Connections: map[string]config.ConnectionConfig{
			"main": {Driver: "sqlite", File: filepath.Join(t.TempDir(), "app.db")},
		},
	}, connection.WithRecorder(stats))
	t.Cleanup(func() { p.DisconnectAll() })

	conn, err := p.Connection(ctx, "")
	require.NoError(t, err)
	_, err = conn.DB.ExecContext(ctx, testSchema)
	require.NoError(t, err)

	f := &fixture{conn: conn, stats: stats}
	f.users = MustDescriptor("users",
		WithFillable("username", "email", "password", "status"),
		WithHidden("password"),
		WithSearchable("username", "email"),
		WithRelations(HasMany("posts", "posts")),
	)
	f.posts = MustDescriptor("posts",
		WithSearchable("title"),
		WithRelations(
			BelongsTo("author", "users"),
			HasMany("comments", "comments"),
			BelongsToMany("tags", "tags"),
		),
	)
	f.comments = MustDescriptor("comments", WithRelations(BelongsTo("user", "users")))
	f.tags = MustDescriptor("tags")
	f.registry = NewRegistry(f.users, f.posts, f.comments, f.tags)
	return f
}

func (f *fixture) model(d *Descriptor, opts ...ModelOption) *Model {
	return NewModel(d, f.conn, append([]ModelOption{WithRegistry(f.registry)}, opts...)...)
}

func (f *fixture) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := f.conn.DB.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

func TestCreate_FillableAndHidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := f.model(f.users)

	id, err := users.Create(ctx, map[string]any{
		"username": "ana",
		"email":    "a@x.com",
		"password": "secret",
		"role":     "admin",
	})
	require.NoError(t, err)
	require.NotNil(t, id)

	row, err := users.Find(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ana", row.Value("username"))
	assert.Equal(t, "member", row.Value("role"))
	assert.False(t, row.Has("password"))

	var stored string
	require.NoError(t, f.conn.DB.QueryRowContext(ctx, "SELECT password FROM users WHERE id = ?", id).Scan(&stored))
	assert.Equal(t, "secret", stored)
}

func TestCreate_NothingToInsert(t *testing.T) {
	f := newFixture(t)
	_, err := f.model(f.users).Create(context.Background(), map[string]any{"unknown": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrPersistence)
}

func TestWhere_InList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec(t, `INSERT INTO users (username, status) VALUES ('a', 'active'), ('b', 'pending'), ('c', 'banned')`)

	rows, err := f.model(f.users).Where(ctx, sqlgen.Map{"status": []string{"active", "pending"}}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].Value("username"), "default order is key descending")
	assert.Equal(t, "a", rows[1].Value("username"))

	none, err := f.model(f.users).Where(ctx, sqlgen.Map{"status": []string{}}, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAll_ProjectionAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec(t, `INSERT INTO users (username, email) VALUES ('b', 'b@x'), ('a', 'a@x'), ('c', 'c@x')`)
	users := f.model(f.users)

	rows, err := users.All(ctx, []string{"id", "username"}, builder.Asc("username"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "username"}, rows[0].Keys())
	assert.Equal(t, []any{"a", "b", "c"}, record.Pluck(rows, "username"))

	_, err = users.All(ctx, []string{"nope"})
	assert.ErrorIs(t, err, runtime.ErrInvalidIdentifier)

	_, err = users.All(ctx, []string{"id; DROP TABLE users"})
	assert.ErrorIs(t, err, runtime.ErrInvalidIdentifier)
}

func TestFirst_CountExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec(t, `INSERT INTO users (username, status) VALUES ('a', 'active'), ('b', 'active'), ('c', 'banned')`)
	users := f.model(f.users)

	first, err := users.First(ctx, sqlgen.Map{"status": "active"}, "username")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "b", first.Value("username"))

	missing, err := users.First(ctx, sqlgen.Map{"status": "gone"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := users.Count(ctx, sqlgen.Map{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := users.Exists(ctx, sqlgen.Where(">", "id", 2))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.Exists(ctx, sqlgen.Where(">", "id", 10))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFind_CompositeKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pivot := f.model(MustDescriptor("post_tag", WithPrimaryKey("post_id", "tag_id")))

	id, err := pivot.Create(ctx, map[string]any{"post_id": 1, "tag_id": 2})
	require.NoError(t, err)
	assert.Equal(t, "1_2", id)

	row, err := pivot.Find(ctx, "1_2")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(2), row.Value("tag_id"))

	row, err = pivot.Find(ctx, map[string]any{"post_id": 1, "tag_id": 2})
	require.NoError(t, err)
	assert.NotNil(t, row)

	for _, id := range []any{map[string]any{"post_id": 1}, "1", "1_2_3", "1_", 7, nil} {
		row, err := pivot.Find(ctx, id)
		require.NoError(t, err, "id %v", id)
		assert.Nil(t, row, "id %v", id)
	}

	ok, err := pivot.Delete(ctx, map[string]any{"post_id": 1})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = pivot.Delete(ctx, "1_2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreate_UUIDKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tokens := f.model(MustDescriptor("tokens", WithUUIDKey()))

	id, err := tokens.Create(ctx, map[string]any{"label": "ci"})
	require.NoError(t, err)
	s, ok := id.(string)
	require.True(t, ok)
	_, err = uuid.Parse(s)
	require.NoError(t, err)

	row, err := tokens.Find(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ci", row.Value("label"))

	id, err = tokens.Create(ctx, map[string]any{"id": "fixed", "label": "manual"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = NewDescriptor("tokens", WithUUIDKey(), WithPrimaryKey("a", "b"))
	assert.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := f.model(f.users)

	id, err := users.Create(ctx, map[string]any{"username": "ana"})
	require.NoError(t, err)

	ok, err := users.Update(ctx, id, map[string]any{"id": 99, "email": "new@x.com", "role": "admin"})
	require.NoError(t, err)
	assert.True(t, ok)

	row, err := users.Find(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "new@x.com", row.Value("email"))
	assert.Equal(t, "member", row.Value("role"))

	moved, err := users.Find(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, moved)

	ok, err = users.Update(ctx, 12345, map[string]any{"email": "x"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = users.Update(ctx, id, map[string]any{"id": 5})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec(t, `INSERT INTO users (username, status) VALUES ('a', 'pending'), ('b', 'pending'), ('c', 'active')`)
	users := f.model(f.users)

	n, err := users.UpdateAll(ctx, map[string]any{"status": "active"}, sqlgen.Map{"status": "pending"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := users.Count(ctx, sqlgen.Map{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	n, err = users.UpdateAll(ctx, map[string]any{"role": "admin"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "role is not fillable")
}

func TestBatchInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := f.model(f.users, WithHooks(HookFuncs{
		BeforeSaveFunc: func(_ context.Context, data map[string]any, insert bool) bool {
			return data["username"] != "blocked"
		},
	}))

	ok, err := users.BatchInsert(ctx, []map[string]any{
		{"username": "a", "email": "a@x"},
		{"username": "blocked", "email": "b@x"},
		{"username": "c", "email": "c@x"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := users.All(ctx, nil, builder.Asc("id"))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c"}, record.Pluck(rows, "username"))

	ok, err = users.BatchInsert(ctx, []map[string]any{{"username": "blocked"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = users.BatchInsert(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_Veto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var deleted []any
	users := f.model(f.users, WithHooks(HookFuncs{
		BeforeDeleteFunc: func(_ context.Context, id any) bool { return fmt.Sprint(id) != "1" },
		AfterDeleteFunc:  func(_ context.Context, id any) { deleted = append(deleted, id) },
	}))
	f.exec(t, `INSERT INTO users (id, username) VALUES (1, 'root'), (2, 'guest')`)

	ok, err := users.Delete(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	row, err := users.Find(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, row)

	ok, err = users.Delete(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{2}, deleted)

	ok, err = users.Delete(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreate_Veto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var saved []map[string]any
	users := f.model(f.users, WithHooks(HookFuncs{
		BeforeSaveFunc: func(_ context.Context, data map[string]any, insert bool) bool {
			data["email"] = "hooked@x"
			return data["username"] != "nobody"
		},
		AfterSaveFunc: func(_ context.Context, insert bool, data map[string]any) {
			saved = append(saved, data)
		},
	}))

	id, err := users.Create(ctx, map[string]any{"username": "nobody"})
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Empty(t, saved)

	id, err = users.Create(ctx, map[string]any{"username": "ana"})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, id, saved[0]["id"])

	row, err := users.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hooked@x", row.Value("email"))
}

func TestAfterLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec(t, `INSERT INTO users (username) VALUES ('ana')`)
	users := f.model(f.users, WithHooks(HookFuncs{
		AfterLoadFunc: func(_ context.Context, rows []*record.Record) []*record.Record {
			for _, r := range rows {
				r.Set("display", fmt.Sprintf("@%v", r.Value("username")))
			}
			return rows
		},
	}))

	rows, err := users.All(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "@ana", rows[0].Value("display"))
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	actor := func(context.Context) (int64, bool) { return 7, true }

	users := f.model(MustDescriptor("users", WithAudit(AuditPolicy{Enabled: true})), WithClock(clock), WithActor(actor))
	id, err := users.Create(ctx, map[string]any{"username": "ana"})
	require.NoError(t, err)

	row, err := users.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02 03:04:05", row.Value("created_at"))
	assert.Equal(t, "2026-01-02 03:04:05", row.Value("updated_at"))
	assert.Equal(t, int64(7), row.Value("created_by"))
	assert.Equal(t, int64(7), row.Value("updated_by"))

	now = now.Add(time.Hour)
	ok, err := users.Update(ctx, id, map[string]any{"email": "a@x"})
	require.NoError(t, err)
	require.True(t, ok)

	row, err = users.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02 03:04:05", row.Value("created_at"))
	assert.Equal(t, "2026-01-02 04:04:05", row.Value("updated_at"))

	// integer columns get epoch seconds, supplied values win, unknown columns are skipped
	posts := f.model(MustDescriptor("posts", WithAudit(AuditPolicy{Enabled: true})), WithClock(clock))
	pid, err := posts.Create(ctx, map[string]any{"title": "t", "user_id": id, "updated_at": 1})
	require.NoError(t, err)
	post, err := posts.Find(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), post.Value("created_at"))
	assert.Equal(t, int64(1), post.Value("updated_at"))
	assert.False(t, post.Has("created_by"))
}

func TestAudit_NoActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := f.model(MustDescriptor("users", WithAudit(AuditPolicy{Enabled: true, Format: TimestampEpoch})),
		WithActor(func(context.Context) (int64, bool) { return 0, false }))

	id, err := users.Create(ctx, map[string]any{"username": "ana"})
	require.NoError(t, err)
	row, err := users.Find(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, row.Value("created_by"))
	assert.NotNil(t, row.Value("created_at"))
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	users := f.model(f.users)

	errRollback := errors.New("rollback")
	err := f.conn.Executor.RunInTx(ctx, func(tx *executor.Executor) error {
		_, err := users.WithDB(tx.DB()).Create(ctx, map[string]any{"username": "ghost"})
		require.NoError(t, err)
		return errRollback
	})
	assert.ErrorIs(t, err, errRollback)

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
