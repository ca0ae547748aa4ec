package connection

import (
	"context"
	"database/sql"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/satishbabariya/recordkit/dialect"
)

// minimum server versions
var minimums = map[string]string{
	"mysql":   "5.7",
	"mariadb": "10.2",
	"pgsql":   "9.5",
	"sqlite":  "3.24",
}

var leadingVersionRe = regexp.MustCompile(`^\d+(\.\d+)*`)

func versionQuery(kind dialect.Kind) string {
	switch kind {
	case dialect.MySQL:
		return "SELECT VERSION()"
	case dialect.Pgsql:
		return "SHOW server_version"
	default:
		return "SELECT sqlite_version()"
	}
}

// checkVersion reads the server version and warns when it is below the
// supported minimum. It never fails the connection.
func (p *Provider) checkVersion(ctx context.Context, db *sql.DB, kind dialect.Kind, logger *slog.Logger) string {
	var raw string
	if err := db.QueryRowContext(ctx, versionQuery(kind)).Scan(&raw); err != nil {
		logger.Warn("could not read server version", "error", err)
		return ""
	}
	flavor, ok, err := SupportedVersion(kind, raw)
	if err != nil {
		logger.Warn("unrecognized server version", "version", raw, "error", err)
		return raw
	}
	if !ok {
		logger.Warn("server version below supported minimum",
			"server", flavor, "version", raw, "minimum", minimums[flavor])
	}
	return raw
}

// SupportedVersion reports whether a raw server version string meets the
// minimum for its flavor (mysql, mariadb, pgsql or sqlite)
func SupportedVersion(kind dialect.Kind, raw string) (string, bool, error) {
	flavor := string(kind)
	if kind == dialect.MySQL && strings.Contains(strings.ToLower(raw), "mariadb") {
		flavor = "mariadb"
		// replication-compatible prefix sent by older servers
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "5.5.5-")
	}

	v, err := version.NewVersion(leadingVersionRe.FindString(strings.TrimSpace(raw)))
	if err != nil {
		return flavor, false, err
	}
	constraint, err := version.NewConstraint(">= " + minimums[flavor])
	if err != nil {
		return flavor, false, err
	}
	return flavor, constraint.Check(v), nil
}
