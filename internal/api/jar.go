package api

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NewJar creates a cookie jar honouring public suffix rules, so the
// session cookie set by the API host is also sent to the realtime host
// when both share a registrable domain.
func NewJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// ParseCookie splits a "name=value" pair
func ParseCookie(raw string) (*http.Cookie, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, ErrInvalidCookie
	}
	return &http.Cookie{Name: name, Value: strings.TrimSpace(value), Path: "/"}, nil
}

// SeedCookie installs a session cookie for every host in urls
func SeedCookie(jar http.CookieJar, cookie *http.Cookie, urls ...*url.URL) {
	for _, u := range urls {
		if u == nil {
			continue
		}
		root := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
		jar.SetCookies(root, []*http.Cookie{cookie})
	}
}
