// Package middleware provides HTTP middleware for the onboarding API.
package middleware

import (
	"net/http"
	"slices"
	"strings"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Content-Type, Authorization, X-Request-Id"
)

// CORS returns middleware that handles CORS headers for the given origins.
// "*" matches any origin but never grants credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")
	explicit := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "*" {
			explicit[strings.TrimRight(o, "/")] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, isExplicit := explicit[origin]

			if origin != "" && (isExplicit || wildcard) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				if isExplicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
