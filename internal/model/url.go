package model

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxFaviconLength caps favicon URLs so inline-encoded images never end up
// in a container.
const MaxFaviconLength = 2048

// blockedSchemes are never restorable: browser-internal pages, extension
// pages, script injection and inline data.
var blockedSchemes = map[string]bool{
	"about":                true,
	"blob":                 true,
	"brave":                true,
	"chrome":               true,
	"chrome-extension":     true,
	"chrome-search":        true,
	"chrome-untrusted":     true,
	"data":                 true,
	"devtools":             true,
	"edge":                 true,
	"extension":            true,
	"javascript":           true,
	"moz-extension":        true,
	"opera":                true,
	"resource":             true,
	"safari-extension":     true,
	"safari-web-extension": true,
	"vbscript":             true,
	"view-source":          true,
	"vivaldi":              true,
}

// CheckURL returns an error describing why raw is not a restorable tab URL.
func CheckURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url does not parse: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("url %q is not absolute", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if blockedSchemes[scheme] {
		return fmt.Errorf("url scheme %q is not allowed", scheme)
	}
	if (scheme == "http" || scheme == "https") && u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// ValidURL reports whether raw may be stored in and restored from a container.
func ValidURL(raw string) bool {
	return CheckURL(raw) == nil
}

// ValidFavicon reports whether raw is acceptable as a favicon reference:
// a short absolute http(s) URL.
func ValidFavicon(raw string) bool {
	if raw == "" || len(raw) > MaxFaviconLength {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
