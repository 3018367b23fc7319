package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// AdminAuth guards the directory admin routes with a shared bearer token.
// An empty token leaves the routes open, which is the development default.
type AdminAuth struct {
	token []byte
}

// NewAdminAuth creates the guard. token may be empty.
func NewAdminAuth(token string) *AdminAuth {
	if token == "" {
		log.Println("⚠️ ADMIN_TOKEN not set, directory admin routes are open")
	}
	return &AdminAuth{token: []byte(token)}
}

// Enabled reports whether a token is required
func (a *AdminAuth) Enabled() bool {
	return a != nil && len(a.token) > 0
}

// Authorized checks the request's bearer token
func (a *AdminAuth) Authorized(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	given := []byte(strings.TrimSpace(header[len(prefix):]))
	return subtle.ConstantTimeCompare(given, a.token) == 1
}

// Middleware rejects unauthorized requests with 401
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorized(r) {
			log.Printf("🔒 Unauthorized admin request from %s: %s %s", GetClientIP(r), r.Method, r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Bearer realm="cabinet"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
