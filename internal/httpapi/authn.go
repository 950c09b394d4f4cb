package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gradify.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	// EventSource cannot set headers, so the stream also accepts the token
	// as a query parameter.
	tokenQueryParam = "access_token"
)

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil && r.URL.Path == "/v1/stream" {
			if q := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); q != "" {
				token, err = q, nil
			}
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gradify"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.opts.Tokens.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gradify", error="invalid_token"`)
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects callers whose roles do not grant perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gradify"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !principal.HasPermission(perm) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gradify", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func caller(r *http.Request) (auth.Principal, bool) {
	return auth.PrincipalFromContext(r.Context())
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
