package auth

import (
	"net/http"
	"strings"
)

// TokenQueryParam carries the JWT for browser WebSocket clients, which cannot set headers.
const TokenQueryParam = "token"

// Middleware authenticates HTTP requests with a Bearer JWT from the Authorization
// header or, failing that, the token query parameter. Paths in allowUnauthenticated
// are passed through without a principal.
func Middleware(secret string, next http.Handler, allowUnauthenticated ...string) http.Handler {
	allow := allowSet(allowUnauthenticated)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allow[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			if tok := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); tok != "" {
				header = "Bearer " + tok
			}
		}
		if header == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		p, err := ParseBearer(header, secret)
		if err != nil {
			http.Error(w, "auth error: "+err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
