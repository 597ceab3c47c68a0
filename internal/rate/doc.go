// Package rate throttles password failures and OTP issuance.
//
// # Window semantics
//
// The Redis [Limiter] uses fixed-window counters: INCR plus EXPIRE on the
// first hit. Key prefixes:
//   - al:  password failures per identifier
//   - ali: password failures per IP
//   - ao:  OTP requests per email
//   - aoi: OTP requests per IP
//
// [Local] gives the same API on in-process token buckets for deployments
// without Redis. Its budgets are per process.
package rate
