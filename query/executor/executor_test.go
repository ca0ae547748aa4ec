package executor

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stats := telemetry.NewStats()
	e := New(db, dialect.MustNew(dialect.Pgsql), WithRecorder(stats))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name" FROM "users" WHERE "id" = $1`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(7), []byte("ana")))

	rows, err := e.Query(context.Background(), sqlgen.Statement{
		SQL:    `SELECT "id", "name" FROM "users" WHERE "id" = :p0_id`,
		Params: []sqlgen.Param{{Name: "p0_id", Value: 7}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].Value("id"))
	assert.Equal(t, "ana", rows[0].Value("name"))
	assert.Equal(t, []string{"id", "name"}, rows[0].Keys())
	assert.Equal(t, int64(1), stats.Snapshot().Queries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_QueryDecodesJSONColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := New(db, dialect.MustNew(dialect.MySQL))
	cols := []*sqlmock.Column{
		sqlmock.NewColumn("id").OfType("INT", int64(0)),
		sqlmock.NewColumn("meta").OfType("JSON", []byte{}),
	}
	mock.ExpectQuery("SELECT").
		WillReturnRows(mock.NewRowsWithColumnDefinition(cols...).AddRow(int64(1), []byte(`{"tags":["a"]}`)))

	rows, err := e.Query(context.Background(), sqlgen.Statement{SQL: "SELECT id, meta FROM posts"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"tags": []any{"a"}}, rows[0].Value("meta"))
}

func TestExecutor_Exec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stats := telemetry.NewStats()
	e := New(db, dialect.MustNew(dialect.MySQL), WithRecorder(stats))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users` WHERE `id` = ?")).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stmt, err := sqlgen.NewGenerator(e.Dialect()).Delete("users", sqlgen.Map{"id": 3})
	require.NoError(t, err)
	res, err := e.Exec(context.Background(), stmt)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), stats.Snapshot().Execs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stats := telemetry.NewStats()
	e := New(db, dialect.MustNew(dialect.SQLite), WithRecorder(stats))
	boom := errors.New("no such table: ghosts")
	mock.ExpectQuery("SELECT").WillReturnError(boom)

	_, err = e.Query(context.Background(), sqlgen.Statement{SQL: `SELECT * FROM "ghosts"`})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), stats.Snapshot().Errors)
}

func TestExecutor_RunInTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := New(db, dialect.MustNew(dialect.MySQL))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err = e.RunInTx(context.Background(), func(tx *Executor) error {
		_, err := tx.Exec(context.Background(), sqlgen.Statement{SQL: "UPDATE `users` SET `active` = 1"})
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	failed := errors.New("abort")
	err = e.RunInTx(context.Background(), func(*Executor) error { return failed })
	assert.ErrorIs(t, err, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}
