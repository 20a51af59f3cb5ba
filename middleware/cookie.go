package middleware

import (
	"net/http"
	"time"

	"github.com/kyrelabs/gateward"
)

// RefreshCookieName is the only place the refresh token travels:
// HttpOnly, Secure, SameSite=Strict. Never a header, never a URL.
const RefreshCookieName = "__Host-refresh_token"

// SetRefreshCookie attaches the refresh token to the response. The
// cookie attributes are not configurable: weakening any of them would
// expose the token to script access or cross-site sends.
func SetRefreshCookie(w http.ResponseWriter, refreshToken string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie expires the cookie, for logout.
func ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// RefreshTokenFromRequest reads the refresh cookie. Empty when absent.
func RefreshTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// WithClientMeta stashes the caller's address and user agent in the
// request context so issuance records them as device metadata. Place it
// in front of login and refresh handlers.
func WithClientMeta(trustXFF bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = gateward.WithClientIP(ctx, ClientIP(r, trustXFF))
			ctx = gateward.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
