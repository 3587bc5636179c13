// Package save defines the vocabulary shared by the scheduler, the
// persistence client and the retry controller: what a save request looks
// like, what came back, and how failures are classified.
//
// # Failure taxonomy
//
// Retryable (handled entirely by the retry controller until retries run out):
//   - network: connection refused, reset, DNS failure
//   - timeout: request deadline exceeded, HTTP 408
//   - rate_limited: HTTP 429
//   - server: HTTP 5xx
//
// Terminal (surfaced immediately, only ForceSave re-sends):
//   - unauthorized: HTTP 401, session expired
//   - forbidden: HTTP 403, including read-only fields
//   - not_found: HTTP 404, record deleted or moved
//   - validation: HTTP 400/422 or a 2xx body with ok=false
//   - conflict: HTTP 409, uniqueness violations
//
// canceled is reported only for writes interrupted by session disposal;
// such outcomes are always discarded.
package save
