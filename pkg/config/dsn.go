package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const defaultPostgresPort = 5432

// databaseURL is a postgres:// connection URL split into libpq fields
type databaseURL struct {
	host     string
	port     int
	user     string
	password string
	database string
	sslMode  string
	options  map[string]string
}

// parseDatabaseURL accepts postgres:// and postgresql:// URLs. A missing
// port means 5432 and a missing sslmode means disable.
func parseDatabaseURL(raw string) (*databaseURL, error) {
	if raw == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	u, err := url.Parse(strings.Replace(raw, "postgresql://", "postgres://", 1))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" {
		return nil, fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}

	parsed := &databaseURL{
		host:     u.Hostname(),
		port:     defaultPostgresPort,
		database: strings.TrimPrefix(u.Path, "/"),
		sslMode:  "disable",
		options:  make(map[string]string),
	}
	if p := u.Port(); p != "" {
		if parsed.port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port in database URL: %w", err)
		}
	}
	if u.User != nil {
		parsed.user = u.User.Username()
		parsed.password, _ = u.User.Password()
	}
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "sslmode" {
			parsed.sslMode = values[0]
			continue
		}
		parsed.options[key] = values[0]
	}
	return parsed, nil
}

// dsn renders the libpq keyword form. Extra options follow in key order.
func (u *databaseURL) dsn() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		u.host, u.port, u.user, u.password, u.database, u.sslMode)

	keys := make([]string, 0, len(u.options))
	for k := range u.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, u.options[k])
	}
	return b.String()
}

// DSN returns the PostgreSQL connection string. A parseable URL wins over
// the individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		if parsed, err := parseDatabaseURL(c.URL); err == nil {
			return parsed.dsn()
		}
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Redacted is the connection target without the password, for logs
func (c *DatabaseConfig) Redacted() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	if c.User != "" {
		u.User = url.User(c.User)
	}
	return u.String()
}

// fillFromURL copies URL parts into the fields that still hold their
// defaults, so explicitly set fields keep precedence
func (c *DatabaseConfig) fillFromURL(defaults DatabaseConfig) {
	if c.URL == "" {
		return
	}
	parsed, err := parseDatabaseURL(c.URL)
	if err != nil {
		return
	}

	if c.Host == "" || c.Host == defaults.Host {
		c.Host = parsed.host
	}
	if c.Port == 0 || c.Port == defaults.Port {
		c.Port = parsed.port
	}
	if c.User == "" || c.User == defaults.User {
		c.User = parsed.user
	}
	if c.Password == "" || c.Password == defaults.Password {
		c.Password = parsed.password
	}
	if c.Database == "" || c.Database == defaults.Database {
		c.Database = parsed.database
	}
	if c.SSLMode == "" || c.SSLMode == defaults.SSLMode {
		c.SSLMode = parsed.sslMode
	}
}
