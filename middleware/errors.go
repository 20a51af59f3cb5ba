package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kyrelabs/gateward"
)

// errorBody is the machine-readable denial payload. It never echoes
// store or signature-library text, and it never reveals whether a
// subject exists.
type errorBody struct {
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// statusFor maps the gateway's error taxonomy onto HTTP statuses:
// 401 for any token failure, 429 for limiter denials, 503 for a store
// outage on the auth path.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, gateward.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, gateward.ErrTokenRevoked):
		return http.StatusUnauthorized, "token_revoked"
	case errors.Is(err, gateward.ErrTokenInvalid), errors.Is(err, gateward.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, gateward.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, gateward.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusUnauthorized, "unauthorized"
	}
}

// WriteError renders err as its mapped status with a JSON body. A
// limiter denial additionally carries Retry-After, both as a header and
// in the body.
func WriteError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	body := errorBody{Code: code}

	var limited *gateward.RateLimitError
	if errors.As(err, &limited) {
		retry := int(limited.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		body.RetryAfter = retry
	}

	writeJSONError(w, status, body)
}

func writeJSONError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
