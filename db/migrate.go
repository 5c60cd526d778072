package db

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/rqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ParseRqliteURL parses an http(s) rqlite URL, defaulting the port to 4001.
func ParseRqliteURL(s string) (u RqliteURL, err error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return u, fmt.Errorf("db: parse rqlite URL failed: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return u, fmt.Errorf("db: parse rqlite URL failed: invalid scheme %q", parsed.Scheme)
	}
	if parsed.Port() == "" {
		parsed.Host = fmt.Sprintf("%s:4001", parsed.Hostname())
	}
	return RqliteURL{URL: parsed}, nil
}

type RqliteURL struct {
	URL *url.URL
}

// DataSourceName is the URL used by gorqlite.
func (ru RqliteURL) DataSourceName() string {
	return ru.URL.String()
}

// MigrateDatabaseURL is the URL used by the golang-migrate rqlite driver.
func (ru RqliteURL) MigrateDatabaseURL() string {
	u := &url.URL{
		Scheme: "rqlite",
		User:   ru.URL.User,
		Host:   fmt.Sprintf("%s:%s", ru.URL.Hostname(), ru.URL.Port()),
	}
	if ru.URL.Scheme == "http" {
		q := u.Query()
		q.Set("x-connect-insecure", "true")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Redacted hides the password for logging.
func (ru RqliteURL) Redacted() string {
	return ru.URL.Redacted()
}

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies any pending migrations and returns the resulting schema version.
func Migrate(u RqliteURL) (version uint, err error) {
	srcDriver, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("db: migrate failed to create iofs: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", srcDriver, u.MigrateDatabaseURL())
	if err != nil {
		return 0, fmt.Errorf("db: migrate failed to create source instance: %w", err)
	}
	defer m.Close()
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("db: migrate up failed: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("db: failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("db: schema version %d is dirty", version)
	}
	return version, nil
}
