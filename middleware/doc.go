// Package middleware is the HTTP request gate in front of marketauth.Engine.
//
// # Handlers
//
//   - [Gate] verifies the session credential (cookie first, then Bearer
//     header) and attaches the immutable marketauth.AuthenticatedContext.
//   - [Require] checks one permission tag against that identity.
//   - [ClientIP] records the caller address for per-IP throttles and audit.
//   - [RateLimiter] is a per-IP token bucket for unauthenticated routes.
//
// Rejections carry fixed JSON bodies: {"error":"unauthorized"} with 401
// and {"error":"forbidden"} with 403. Why a credential was refused is only
// logged.
//
// # What this package must NOT do
//
//   - Parse or sign credentials directly (delegates to the Engine).
//   - Access the credential store.
//   - Let a handler mutate the identity once attached.
package middleware
