// Package middleware adapts the gateway to net/http: a bearer-token
// guard, a rate-limit wrapper that speaks RateLimit-* headers, and the
// refresh-token cookie helpers. Everything is framework-free
// func(http.Handler) http.Handler, composable with any router.
package middleware
