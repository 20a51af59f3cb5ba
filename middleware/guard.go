package middleware

import (
	"net/http"
	"strings"

	"github.com/kyrelabs/gateward"
)

// Guard verifies the Authorization bearer token and attaches the
// resulting identity to the request context. Handlers behind it read
// the identity with [gateward.IdentityFromContext].
func Guard(gw *gateward.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, gateward.ErrTokenInvalid)
				return
			}

			identity, err := gw.VerifyAccess(r.Context(), tok)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := gateward.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose identity carries a
// different role. Compose it after [Guard].
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := gateward.IdentityFromContext(r.Context())
			if !ok || identity.Role != role {
				writeJSONError(w, http.StatusForbidden, errorBody{Code: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	tok := value[len(bearer):]
	if tok == "" {
		return "", false
	}

	return tok, true
}
