package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"promanage.org/internal/authz"
	"promanage.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/auth/login",
	"/auth/refresh",
	"/auth/register",
	"/auth/forgot-password",
	"/auth/reset-password",
	"/metrics",
	"/healthz",
	"/readyz",
	"/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		// Revocation first: a blacklisted token is dead no matter how valid
		// its signature still is.
		if a.revocations != nil {
			revoked, err := a.revocations.IsRevoked(r.Context(), raw)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
				return
			}
			if revoked {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
		}

		claims, err := a.tokens.ValidateAccess(raw)
		if err != nil {
			if errors.Is(err, token.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		principal := authz.Principal{
			UserID:      claims.UserID,
			Username:    claims.Subject,
			Authorities: claims.AuthorityList(),
		}
		ctx := authz.ContextWithPrincipal(r.Context(), principal)
		ctx = authz.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// principal pulls the authenticated caller or answers 401.
func principal(w http.ResponseWriter, r *http.Request) (authz.Principal, bool) {
	p, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return authz.Principal{}, false
	}
	return p, true
}
