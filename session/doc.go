// Package session holds the Session model decoded from a verified session
// credential and the cookie transport for credential pairs.
//
// Sessions are never persisted. Everything a Session carries comes from the
// signed credential, so verifying one needs no store round-trip.
//
// # Cookies
//
// [SetCookies] writes both credentials as HttpOnly, SameSite=Strict cookies.
// The refresh cookie is scoped to the refresh path so it is not sent with
// ordinary requests. [ClearCookies] writes expired replacements.
//
// # What this package must NOT do
//
//   - Import marketauth (no upward imports).
//   - Make authorization decisions.
package session
