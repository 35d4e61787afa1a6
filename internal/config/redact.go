package config

import (
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const redacted = "***"

// RedactURL replaces the password in a connection URL with "***".
// If the URL cannot be parsed or has no password, it is returned unchanged.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}

	// Splice the raw string so the rest of the URL keeps its original escaping.
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return raw
	}

	start := schemeEnd + len("://")

	authority := raw[start:]
	if end := strings.IndexAny(authority, "/?#"); end >= 0 {
		authority = authority[:end]
	}

	at := strings.LastIndex(authority, "@")
	colon := strings.Index(authority, ":")

	if at < 0 || colon < 0 || colon > at {
		return raw
	}

	return raw[:start+colon+1] + redacted + raw[start+at:]
}

// LogFields returns the settings that identify where the ledger lives,
// with secrets masked, for structured logging.
func (c *Config) LogFields() logrus.Fields {
	fields := logrus.Fields{
		"backend":     c.Backend,
		"step_policy": c.StepPolicy,
	}

	switch c.Backend {
	case BackendPostgres:
		fields["database_url"] = RedactURL(c.DatabaseURL)
		fields["table"] = c.Table

		if c.MaxConns > 0 {
			fields["max_conns"] = c.MaxConns
		}
	case BackendSQLite:
		fields["sqlite_path"] = c.SQLitePath
		fields["table"] = c.Table
	case BackendEtcd:
		fields["etcd_endpoints"] = strings.Join(c.EtcdEndpoints, ",")
		fields["etcd_prefix"] = c.EtcdPrefix
	case BackendRedis:
		fields["redis_addr"] = c.RedisAddr
		fields["redis_db"] = c.RedisDB
		fields["redis_prefix"] = c.RedisPrefix

		if c.RedisPassword != "" {
			fields["redis_password"] = redacted
		}
	}

	return fields
}
