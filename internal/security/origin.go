// Package security holds the origin allow-list shared by the CORS layer
// and the cross-domain storage bridge.
package security

import (
	"net/url"
	"strings"
)

// AllowList matches request origins against configured patterns:
//
//	"*"                 any origin
//	"*.example.com"     any subdomain of example.com (not example.com itself)
//	"https://a.b.com"   exact match
//
// Wildcard patterns match on the origin's host, whatever the scheme or port.
type AllowList struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string // ".example.com"
}

// NewAllowList compiles patterns. Empty entries are ignored.
func NewAllowList(patterns []string) *AllowList {
	a := &AllowList{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			a.any = true
		case strings.HasPrefix(p, "*."):
			a.suffixes = append(a.suffixes, strings.ToLower(p[1:]))
		default:
			a.exact[strings.ToLower(strings.TrimSuffix(p, "/"))] = struct{}{}
		}
	}
	return a
}

// AllowsAll reports whether the list contains "*".
func (a *AllowList) AllowsAll() bool { return a.any }

// Allowed reports whether origin may talk to us. An empty or "null"
// origin only passes a "*" list.
func (a *AllowList) Allowed(origin string) bool {
	if a.any {
		return true
	}
	if origin == "" || origin == "null" {
		return false
	}
	origin = strings.ToLower(origin)
	if _, ok := a.exact[origin]; ok {
		return true
	}
	if len(a.suffixes) == 0 {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	for _, suffix := range a.suffixes {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

// Patterns returns the normalized patterns, for rendering into the bridge
// document.
func (a *AllowList) Patterns() []string {
	var out []string
	if a.any {
		out = append(out, "*")
	}
	for o := range a.exact {
		out = append(out, o)
	}
	for _, s := range a.suffixes {
		out = append(out, "*"+s)
	}
	return out
}
