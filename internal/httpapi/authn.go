package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tisp.org/internal/auth"
	"tisp.org/internal/trust"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth turns a bearer token into a trust.Principal on the context. Without
// an issuer every request passes through unauthenticated and mutations are
// refused by the services.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.issuer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="trust"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.ParseAndValidate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="trust", error="invalid_token"`)
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), claims.Principal())
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor returns the authenticated caller, or nil.
func actor(r *http.Request) trust.Actor {
	return auth.ActorFromContext(r.Context())
}

// actingOrg defaults an omitted organization to the caller's own.
func actingOrg(r *http.Request, requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return p.Organization
	}
	return ""
}

func isPlatformAdmin(r *http.Request) bool {
	p, ok := auth.PrincipalFromContext(r.Context())
	return ok && p.RoleName == trust.RolePlatformAdmin
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
