// Package ratelimit bounds how often a caller may invoke the API. An
// [Engine] evaluates per-scope policies against a [CounterStore]; the
// store choice (in-memory for single node, Redis for shared state)
// never leaks into engine logic.
//
// Two window accountings are available per scope, plus a local bucket:
//
//   - Fixed window: one counter per (scope, key, window start). Cheap,
//     but up to 2x the limit can pass across a window boundary. That is
//     a documented tradeoff for coarse scopes, not a bug.
//   - Sliding window: an ordered set of request timestamps. Eviction,
//     insert, and count execute as one atomic store operation, so
//     concurrent checks for the same key never lose increments.
//   - Token bucket: golang.org/x/time/rate per key, in-process only,
//     for scopes that want burst smoothing rather than hard windows.
//
// Unlike the token service, the engine fails OPEN: when the counter
// store is unreachable the request is allowed and the failure is
// reported through the logger and the fail-open hook. Under-limiting
// briefly costs less than denying all traffic during an outage. The
// asymmetry with the auth path is deliberate; keep it.
package ratelimit
