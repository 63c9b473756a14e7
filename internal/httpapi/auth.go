package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are issued by the external auth service. Either role or roles may
// carry the caller's roles.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

func (c *Claims) hasAnyRole(allowed map[string]bool) bool {
	if allowed[strings.ToLower(c.Role)] {
		return true
	}
	for _, role := range c.Roles {
		if allowed[strings.ToLower(role)] {
			return true
		}
	}
	return false
}

var staffRoles = map[string]bool{
	"admin":  true,
	"staff":  true,
	"doctor": true,
}

// AuthMiddleware requires an HS256 bearer token with a staff role on every
// endpoint that is not public.
func AuthMiddleware(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if !claims.hasAnyRole(staffRoles) {
			writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "staff role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint lists what patients reach without a staff token: joining
// and checking their own position.
func isPublicEndpoint(r *http.Request) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch path {
	case "/healthz", "/metrics":
		return true
	case "/queues/join_queue":
		return r.Method == http.MethodPost
	}
	if strings.HasPrefix(path, "/queues/") && strings.HasSuffix(path, "/position") {
		return r.Method == http.MethodGet
	}
	return r.Method == http.MethodOptions
}
