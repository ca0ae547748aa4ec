package connection

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/satishbabariya/recordkit/config"
	"github.com/satishbabariya/recordkit/dialect"
)

const memoryDatabase = ":memory:"

// BuildDSN renders the driver-specific data source name for a connection
func BuildDSN(kind dialect.Kind, cc config.ConnectionConfig) (string, error) {
	switch kind {
	case dialect.MySQL:
		return mysqlDSN(cc), nil
	case dialect.Pgsql:
		return postgresDSN(cc), nil
	case dialect.SQLite:
		return sqliteDSN(cc)
	default:
		return "", fmt.Errorf("unsupported driver: %s", kind)
	}
}

func mysqlDSN(cc config.ConnectionConfig) string {
	port := cc.Port
	if port == 0 {
		port = 3306
	}
	host := cc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	charset := cc.Charset
	if charset == "" {
		charset = "utf8mb4"
	}

	cfg := mysql.NewConfig()
	cfg.User = cc.Username
	cfg.Passwd = cc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = cc.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": charset}
	return cfg.FormatDSN()
}

func postgresDSN(cc config.ConnectionConfig) string {
	host := cc.Host
	if host == "" {
		host = "localhost"
	}
	port := cc.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cc.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	pairs := [][2]string{
		{"host", host},
		{"port", strconv.Itoa(port)},
		{"dbname", cc.Database},
		{"user", cc.Username},
		{"password", cc.Password},
		{"sslmode", sslmode},
	}
	if cc.Charset != "" {
		pairs = append(pairs, [2]string{"client_encoding", cc.Charset})
	}
	if cc.Schema != "" {
		pairs = append(pairs, [2]string{"search_path", cc.Schema})
	}

	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quotePostgresValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

// quotePostgresValue quotes a keyword/value connection string value
func quotePostgresValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func sqliteDSN(cc config.ConnectionConfig) (string, error) {
	const params = "?_foreign_keys=on&_busy_timeout=5000"
	if cc.File == memoryDatabase {
		return memoryDatabase + params, nil
	}
	path, err := filepath.Abs(cc.File)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("database directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("database directory %s is not a directory", dir)
	}
	return path + params, nil
}
