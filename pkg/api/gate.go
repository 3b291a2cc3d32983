package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

type roleKey struct{}

func RoleFrom(ctx context.Context) Role {
	if r, ok := ctx.Value(roleKey{}).(Role); ok {
		return r
	}
	return ""
}

// Gate is a shared-password session check. Operators and viewers each have
// their own password; a login trades the password for a session cookie.
// Requests may also carry the password as a bearer token.
type Gate struct {
	password       string
	viewerPassword string
	cookieName     string

	mu       sync.Mutex
	sessions map[string]Role
}

// NewGate returns a gate; an empty password lets everyone in as operator.
func NewGate(password, viewerPassword, cookieName string) *Gate {
	if cookieName == "" {
		cookieName = "roomboard_session"
	}
	return &Gate{
		password:       password,
		viewerPassword: viewerPassword,
		cookieName:     cookieName,
		sessions:       make(map[string]Role),
	}
}

func (g *Gate) Enabled() bool {
	return g.password != ""
}

func (g *Gate) roleForPassword(pw string) Role {
	if !g.Enabled() {
		return RoleOperator
	}
	if subtle.ConstantTimeCompare([]byte(pw), []byte(g.password)) == 1 {
		return RoleOperator
	}
	if g.viewerPassword != "" && subtle.ConstantTimeCompare([]byte(pw), []byte(g.viewerPassword)) == 1 {
		return RoleViewer
	}
	return ""
}

// Login opens a session for pw, returning the token and role.
func (g *Gate) Login(pw string) (string, Role, bool) {
	role := g.roleForPassword(pw)
	if role == "" {
		return "", "", false
	}
	token := uuid.NewString()
	g.mu.Lock()
	g.sessions[token] = role
	g.mu.Unlock()
	return token, role, true
}

func (g *Gate) Logout(token string) {
	g.mu.Lock()
	delete(g.sessions, token)
	g.mu.Unlock()
}

// Authenticate resolves the role for a request, or "" if it has none.
func (g *Gate) Authenticate(r *http.Request) Role {
	if !g.Enabled() {
		return RoleOperator
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return g.roleForPassword(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(g.cookieName); err == nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.sessions[c.Value]
	}
	return ""
}

// Require rejects unauthenticated requests with 401 and records the role.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := g.Authenticate(r)
		if role == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
	})
}

// RequireOperator rejects viewer sessions with 403.
func RequireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if RoleFrom(r.Context()) != RoleOperator {
			writeError(w, http.StatusForbidden, "read-only session")
			return
		}
		next(w, r)
	}
}
