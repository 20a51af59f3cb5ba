// Package token signs and verifies the gateway's access and refresh
// tokens. Access tokens are short-lived and self-contained; refresh
// tokens carry a unique token ID (jti) that the revocation store tracks.
//
// Verification pins the accepted signing algorithm: a token signed with
// any other method, including "none", is rejected before claims are
// examined. The package performs no I/O; store lookups belong to the
// caller.
package token
