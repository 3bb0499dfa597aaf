package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultSSLMode = "disable"
	postgresPort   = 5432
)

// ConnTarget is a PostgreSQL connection target, either parsed from a URL or
// assembled from the individual database settings.
type ConnTarget struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Options  map[string]string
}

// ParseConnURL parses postgres:// and postgresql:// URLs. Query parameters
// other than sslmode end up in Options.
func ParseConnURL(rawURL string) (*ConnTarget, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return nil, fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}

	t := &ConnTarget{
		Host:     u.Hostname(),
		Port:     postgresPort,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  defaultSSLMode,
		Options:  map[string]string{},
	}
	if p := u.Port(); p != "" {
		if t.Port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port in database URL: %w", err)
		}
	}
	if u.User != nil {
		t.User = u.User.Username()
		t.Password, _ = u.User.Password()
	}

	q := u.Query()
	for key := range q {
		if key == "sslmode" {
			t.SSLMode = q.Get(key)
			continue
		}
		t.Options[key] = q.Get(key)
	}
	return t, nil
}

// DSN renders the libpq keyword/value form consumed by lib/pq. Options follow
// in key order.
func (t *ConnTarget) DSN() string {
	pairs := []string{
		"host=" + dsnValue(t.Host),
		"port=" + strconv.Itoa(t.Port),
		"user=" + dsnValue(t.User),
		"password=" + dsnValue(t.Password),
		"dbname=" + dsnValue(t.Database),
		"sslmode=" + dsnValue(t.sslMode()),
	}
	for _, key := range t.optionKeys() {
		pairs = append(pairs, key+"="+dsnValue(t.Options[key]))
	}
	return strings.Join(pairs, " ")
}

// URL renders the target as a postgres:// URL for golang-migrate. Options are
// left out.
func (t *ConnTarget) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(t.User, t.Password),
		Host:     t.Host + ":" + strconv.Itoa(t.Port),
		Path:     "/" + t.Database,
		RawQuery: "sslmode=" + url.QueryEscape(t.sslMode()),
	}
	return u.String()
}

func (t *ConnTarget) sslMode() string {
	if t.SSLMode == "" {
		return defaultSSLMode
	}
	return t.SSLMode
}

func (t *ConnTarget) optionKeys() []string {
	keys := make([]string, 0, len(t.Options))
	for k := range t.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dsnValue quotes v when libpq would otherwise split or misread it.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
