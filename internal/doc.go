// Package internal holds helpers private to marketauth: OTP codes, opaque
// invite tokens and the hashes stored for them.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - ids: ULID identifiers
//   - rate: attempt and issuance throttling (Redis or in-process)
//   - stores: Redis-backed OTP challenge records
//   - telemetry: OpenTelemetry tracer provider setup
//   - httpapi: JSON HTTP surface used by cmd/marketauthd
//   - mailer: SMTP and log-only code and invite delivery
//   - server: daemon assembly, configuration and background sweeps
package internal
