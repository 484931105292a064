// Package guard decides whether a session may reach a protected surface.
package guard

import (
	"encoding/json"
	"net/http"
	"strings"

	"pentestdesk/internal/models"
	"pentestdesk/internal/session"
)

type Decision int

const (
	Loading Decision = iota
	Unauthenticated
	NoRole
	Forbidden
	Authorized
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case NoRole:
		return "pending"
	case Forbidden:
		return "forbidden"
	default:
		return "authorized"
	}
}

type Options struct {
	RequireRole  bool
	AllowedRoles []models.Role
	Fallback     http.Handler
	SignInPath   string
}

type Option func(*Options)

// WithoutRole admits any authenticated session, with or without a role.
func WithoutRole() Option { return func(o *Options) { o.RequireRole = false } }

// AllowRoles restricts access to the listed roles.
func AllowRoles(roles ...models.Role) Option {
	return func(o *Options) { o.AllowedRoles = append(o.AllowedRoles, roles...) }
}

// WithFallback renders h instead of the default pending/denied responses.
func WithFallback(h http.Handler) Option { return func(o *Options) { o.Fallback = h } }

func WithSignInPath(p string) Option { return func(o *Options) { o.SignInPath = p } }

func NewOptions(opts ...Option) Options {
	o := Options{RequireRole: true, SignInPath: "/auth"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Evaluate is checked in order: loading, identity, role presence, allow-list.
func Evaluate(s session.Snapshot, o Options) Decision {
	if s.Loading {
		return Loading
	}
	if !s.Authenticated() {
		return Unauthenticated
	}
	if o.RequireRole && s.Role.Role == models.RoleNone {
		return NoRole
	}
	if len(o.AllowedRoles) > 0 {
		for _, r := range o.AllowedRoles {
			if r == s.Role.Role {
				return Authorized
			}
		}
		return Forbidden
	}
	return Authorized
}

// Require gates next on the request's session snapshot.
func Require(opts ...Option) func(http.Handler) http.Handler {
	o := NewOptions(opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch Evaluate(session.FromRequest(r.Context()), o) {
			case Authorized:
				next.ServeHTTP(w, r)
			case Loading:
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "loading")
			case Unauthenticated:
				if wantsHTML(r) {
					http.Redirect(w, r, o.SignInPath, http.StatusFound)
					return
				}
				writeError(w, http.StatusUnauthorized, "not authenticated")
			case NoRole:
				if o.Fallback != nil {
					o.Fallback.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusForbidden, "access pending")
			case Forbidden:
				if o.Fallback != nil {
					o.Fallback.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusForbidden, "access denied")
			}
		})
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
