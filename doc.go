// Package marketauth is the identity and session-lifecycle core of a
// multi-tenant marketplace. It issues and verifies session credentials,
// mediates one-time-passcode login and password login, manages magic-link
// invitations for onboarding, and answers authorization questions for every
// other subsystem.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// marketauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([TokenPair], [OTPChallenge], [AuthenticatedContext], ...).
// Persistence is an external collaborator reached only through
// store.CredentialStore; Redis is optional and, when present, carries OTP
// challenges and rate-limit counters shared by every node.
//
// # Credentials
//
// Session and refresh credentials are signed JWTs carrying a kind
// discriminator, so one can never stand in for the other. Verifying a
// session credential needs no store round-trip. Refresh re-reads the user
// and is the point where suspension takes effect; a session issued before a
// suspension stays valid until it expires. There is no server-side
// revocation list, and Logout only clears the client's cookies.
//
// # Authorization
//
// [Engine.CheckPermission] is the single entry point. The super_admin role
// grants everything; otherwise the roles on the session are looked up in the
// bindings of the session's business and of the global scope. Unknown roles
// and store failures deny.
package marketauth
