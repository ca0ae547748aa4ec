package connection

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/recordkit/config"
	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/runtime"
)

func sqliteConfig(file string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Default: "main",
		Connections: map[string]config.ConnectionConfig{
			"main": {Driver: "sqlite", File: file},
		},
	}
}

func TestProvider_SQLite(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(sqliteConfig(filepath.Join(t.TempDir(), "app.db")))
	t.Cleanup(func() { p.DisconnectAll() })

	h, err := p.Connection(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "main", h.Name)
	assert.Equal(t, dialect.SQLite, h.Kind)
	assert.Equal(t, 1, h.DB.Stats().MaxOpenConnections)

	var fk int
	require.NoError(t, h.DB.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	again, err := p.Connection(ctx, "main")
	require.NoError(t, err)
	assert.Same(t, h, again)

	require.NoError(t, p.Disconnect("main"))
	fresh, err := p.Connection(ctx, "main")
	require.NoError(t, err)
	assert.NotSame(t, h, fresh)
}

func TestProvider_Errors(t *testing.T) {
	ctx := context.Background()

	p := NewProvider(sqliteConfig(filepath.Join(t.TempDir(), "missing", "dir", "app.db")))
	_, err := p.Connection(ctx, "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrConnection)

	var connErr *runtime.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "main", connErr.Name)

	_, err = p.Connection(ctx, "reporting")
	assert.ErrorIs(t, err, runtime.ErrConnection)

	_, err = p.DriverKind("reporting")
	assert.ErrorIs(t, err, runtime.ErrConnection)
}

func TestProvider_DriverKind(t *testing.T) {
	p := NewProvider(config.DatabaseConfig{
		Default: "main",
		Connections: map[string]config.ConnectionConfig{
			"main":      {Driver: "mariadb", Database: "app"},
			"reporting": {Driver: "postgres", Database: "reports"},
			"local":     {Driver: "sqlite3", File: ":memory:"},
		},
	})

	for name, want := range map[string]dialect.Kind{"": dialect.MySQL, "reporting": dialect.Pgsql, "local": dialect.SQLite} {
		kind, err := p.DriverKind(name)
		require.NoError(t, err)
		assert.Equal(t, want, kind)
	}
	assert.Equal(t, []string{"local", "main", "reporting"}, p.Names())
	assert.Equal(t, "main", p.Default())
}

func mockOpener(t *testing.T, db *sql.DB, wantDriver string) Opener {
	return func(driverName, dsn string) (*sql.DB, error) {
		assert.Equal(t, wantDriver, driverName)
		return db, nil
	}
}

func TestProvider_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("access denied for user 'app'"))
	mock.ExpectClose()

	p := NewProvider(config.DatabaseConfig{
		Default:     "main",
		Connections: map[string]config.ConnectionConfig{"main": {Driver: "mysql", Database: "app"}},
	}, WithOpener(mockOpener(t, db, "mysql")))

	_, err = p.Connection(context.Background(), "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrConnection)
	assert.Contains(t, err.Error(), "access denied")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvider_VersionCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT VERSION()")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("5.6.51-log"))
	mock.ExpectClose()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p := NewProvider(config.DatabaseConfig{
		Default:     "main",
		Connections: map[string]config.ConnectionConfig{"main": {Driver: "mysql", Database: "app"}},
	}, WithOpener(mockOpener(t, db, "mysql")), WithLogger(logger), WithVersionCheck(true))

	h, err := p.Connection(context.Background(), "")
	require.NoError(t, err, "an old server only warns")
	assert.Equal(t, "5.6.51-log", h.ServerVersion)
	assert.Contains(t, buf.String(), "server version below supported minimum")

	require.NoError(t, p.DisconnectAll())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSupportedVersion(t *testing.T) {
	tests := []struct {
		kind       dialect.Kind
		raw        string
		wantFlavor string
		wantOK     bool
	}{
		{dialect.MySQL, "8.0.34", "mysql", true},
		{dialect.MySQL, "5.6.51-log", "mysql", false},
		{dialect.MySQL, "10.6.12-MariaDB-1:10.6.12+maria~ubu2004", "mariadb", true},
		{dialect.MySQL, "5.5.5-10.1.48-MariaDB", "mariadb", false},
		{dialect.Pgsql, "15.3 (Debian 15.3-1.pgdg120+1)", "pgsql", true},
		{dialect.Pgsql, "9.4.26", "pgsql", false},
		{dialect.SQLite, "3.45.1", "sqlite", true},
		{dialect.SQLite, "3.22.0", "sqlite", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			flavor, ok, err := SupportedVersion(tt.kind, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlavor, flavor)
			assert.Equal(t, tt.wantOK, ok)
		})
	}

	_, _, err := SupportedVersion(dialect.Pgsql, "devel")
	assert.Error(t, err)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(dialect.MySQL, config.ConnectionConfig{
		Host: "db", Port: 3307, Database: "app", Username: "app", Password: "p@ss",
	})
	require.NoError(t, err)
	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", parsed.User)
	assert.Equal(t, "p@ss", parsed.Passwd)
	assert.Equal(t, "db:3307", parsed.Addr)
	assert.Equal(t, "app", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Contains(t, dsn, "charset=utf8mb4")

	dsn, err = BuildDSN(dialect.Pgsql, config.ConnectionConfig{
		Database: "reports", Username: "analyst", Password: "it's secret", Schema: "billing",
	})
	require.NoError(t, err)
	assert.Equal(t, `host=localhost port=5432 dbname=reports user=analyst password='it\'s secret' sslmode=disable search_path=billing`, dsn)

	dsn, err = BuildDSN(dialect.SQLite, config.ConnectionConfig{File: ":memory:"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, ":memory:?"))
	assert.Contains(t, dsn, "_foreign_keys=on")

	_, err = BuildDSN(dialect.Kind("oracle"), config.ConnectionConfig{})
	assert.Error(t, err)
}
