package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"doubtdesk/internal/logger"
)

const module = "localstore"

// Theme is the persisted colour scheme preference
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const themeKey = "theme"

// Store persists client-side preferences and the session cookie in sqlite
type Store struct {
	db     *sql.DB
	logger logger.ILogger

	mu     sync.RWMutex
	closed bool
}

// Open creates (if needed) and migrates the database at path
func Open(path string, log logger.ILogger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// TECHNICAL DISCOVERY: one connection serializes writers the way sqlite wants
	db.SetMaxOpenConns(1)

	mgr := NewMigrationManager(db)
	if err := mgr.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := mgr.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug(module, "local store opened", map[string]interface{}{"path": path})
	return &Store{db: db, logger: log}, nil
}

// Close releases the database; later calls return ErrStoreClosed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Preference returns the value stored under key and whether it exists
func (s *Store) Preference(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if err := s.check(); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference upserts key
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.check(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// Theme returns the stored theme, light when unset or unrecognised
func (s *Store) Theme(ctx context.Context) (Theme, error) {
	value, ok, err := s.Preference(ctx, themeKey)
	if err != nil {
		return ThemeLight, err
	}
	if !ok || Theme(value) != ThemeDark {
		return ThemeLight, nil
	}
	return ThemeDark, nil
}

func (s *Store) SetTheme(ctx context.Context, theme Theme) error {
	if theme != ThemeLight && theme != ThemeDark {
		return ErrInvalidTheme
	}
	return s.SetPreference(ctx, themeKey, string(theme))
}

// ToggleTheme flips light and dark and returns the new theme
func (s *Store) ToggleTheme(ctx context.Context) (Theme, error) {
	current, err := s.Theme(ctx)
	if err != nil {
		return current, err
	}
	next := ThemeDark
	if current == ThemeDark {
		next = ThemeLight
	}
	if err := s.SetTheme(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

// SaveCookies replaces the cookies remembered for host
func (s *Store) SaveCookies(ctx context.Context, host string, cookies []*http.Cookie) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cookies WHERE host = ?", host); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cookies (host, name, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)",
			host, c.Name, c.Value,
		); err != nil {
			return fmt.Errorf("failed to save cookie %s: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

// Cookies returns the cookies remembered for host
func (s *Store) Cookies(ctx context.Context, host string) ([]*http.Cookie, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM cookies WHERE host = ? ORDER BY name", host)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	defer rows.Close()

	var out []*http.Cookie
	for rows.Next() {
		c := &http.Cookie{Path: "/"}
		if err := rows.Scan(&c.Name, &c.Value); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearCookies forgets every cookie for host
func (s *Store) ClearCookies(ctx context.Context, host string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM cookies WHERE host = ?", host)
	return err
}

// RestoreJar loads the cookies saved for u into jar
func (s *Store) RestoreJar(ctx context.Context, jar http.CookieJar, u *url.URL) error {
	cookies, err := s.Cookies(ctx, u.Host)
	if err != nil {
		return err
	}
	if len(cookies) > 0 {
		jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, cookies)
		s.logger.Debug(module, "session cookies restored", map[string]interface{}{"host": u.Host, "count": len(cookies)})
	}
	return nil
}

// PersistJar saves the cookies jar would send to u
func (s *Store) PersistJar(ctx context.Context, jar http.CookieJar, u *url.URL) error {
	return s.SaveCookies(ctx, u.Host, jar.Cookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}))
}
