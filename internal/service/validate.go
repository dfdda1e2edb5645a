package service

import (
	"net/mail"
	"net/url"
	"strings"

	"github.com/stayawake/stayawake/internal/netguard"
)

const (
	maxURLLength   = 2048
	maxEmailLength = 254
)

// NormalizeEmail trims and lower-cases an address and checks it parses as a
// bare RFC 5322 address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	if !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}

	return email, nil
}

// CanonicalizeURL validates an absolute http(s) URL and returns its
// canonical form: lower-case scheme and host, default port stripped,
// fragment removed, trailing slash trimmed except at the root. Local names
// and literal private addresses are rejected with ErrPrivateURL.
func CanonicalizeURL(raw string) (string, error) {
	return canonicalizeURL(raw, false)
}

func canonicalizeURL(raw string, allowPrivate bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if len(raw) > maxURLLength {
		return "", ErrURLTooLong
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	if u.Hostname() == "" {
		return "", ErrInvalidURL
	}
	if !allowPrivate && netguard.IsBlockedHost(u.Hostname()) {
		return "", ErrPrivateURL
	}

	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && u.Port() == "80":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && u.Port() == "443":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}

	return u.String(), nil
}
