// Package identity resolves anonymous ids from requests and bootstraps the
// profile and credits account the first time an id is seen.
package identity

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Default transport names for the anonymous id.
const (
	DefaultHeader = "X-Anon-Id"
	DefaultCookie = "anon_id"
)

// Resolver extracts an anonymous id from a request: the header first, then
// the cookie. It performs no I/O and never mints an id.
type Resolver struct {
	Header string
	Cookie string
}

// NewResolver returns a Resolver, filling blank names with the defaults.
func NewResolver(header, cookie string) Resolver {
	if header == "" {
		header = DefaultHeader
	}
	if cookie == "" {
		cookie = DefaultCookie
	}
	return Resolver{Header: header, Cookie: cookie}
}

// Resolve returns the candidate anonymous id and whether one was present.
func (r Resolver) Resolve(req *http.Request) (string, bool) {
	if id := strings.TrimSpace(req.Header.Get(r.Header)); id != "" {
		return id, true
	}
	if c, err := req.Cookie(r.Cookie); err == nil {
		if id := strings.TrimSpace(c.Value); id != "" {
			return id, true
		}
	}
	return "", false
}

// NewAnonID mints a fresh random anonymous id.
func NewAnonID() string {
	return uuid.NewString()
}
