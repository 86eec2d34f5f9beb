package localstore

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doubtdesk/internal/api"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "doubtdesk.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	s, path := openTestStore(t)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestLoadMigrationsSorted(t *testing.T) {
	s, _ := openTestStore(t)
	migrations, err := NewMigrationManager(s.db).loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "preferences", migrations[0].Description)
	assert.Equal(t, "002", migrations[1].Version)
}

func TestPreferences(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Preference(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPreference(ctx, "k", "v1"))
	require.NoError(t, s.SetPreference(ctx, "k", "v2"))
	v, ok, err := s.Preference(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	assert.ErrorIs(t, s.SetPreference(ctx, "", "x"), ErrEmptyKey)
}

func TestThemeToggle(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	theme, err := s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme)

	theme, err = s.ToggleTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)

	theme, err = s.ToggleTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme)

	require.NoError(t, s.SetTheme(ctx, ThemeDark))
	assert.ErrorIs(t, s.SetTheme(ctx, "sepia"), ErrInvalidTheme)
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	theme, err = reopened.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)
}

func TestUnknownThemeFallsBackToLight(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetPreference(ctx, themeKey, "neon"))

	theme, err := s.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme)
}

func TestCookiesRoundTripThroughJar(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	u, _ := url.Parse("http://api.example.test/api")

	jar, err := api.NewJar()
	require.NoError(t, err)
	jar.SetCookies(&url.URL{Scheme: "http", Host: u.Host, Path: "/"}, []*http.Cookie{{Name: "connect.sid", Value: "abc", Path: "/"}})
	require.NoError(t, s.PersistJar(ctx, jar, u))

	fresh, err := api.NewJar()
	require.NoError(t, err)
	require.NoError(t, s.RestoreJar(ctx, fresh, u))
	got := fresh.Cookies(u)
	require.Len(t, got, 1)
	assert.Equal(t, "connect.sid", got[0].Name)
	assert.Equal(t, "abc", got[0].Value)

	require.NoError(t, s.ClearCookies(ctx, u.Host))
	cookies, err := s.Cookies(ctx, u.Host)
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestSaveCookiesReplacesHost(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCookies(ctx, "a", []*http.Cookie{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}}))
	require.NoError(t, s.SaveCookies(ctx, "b", []*http.Cookie{{Name: "z", Value: "3"}}))
	require.NoError(t, s.SaveCookies(ctx, "a", []*http.Cookie{{Name: "y", Value: "9"}, nil}))

	a, err := s.Cookies(ctx, "a")
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "9", a[0].Value)

	b, err := s.Cookies(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, b, 1)
}

func TestClosedStore(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Theme(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.SaveCookies(context.Background(), "h", nil), ErrStoreClosed)
}
