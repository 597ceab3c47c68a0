// Package stores keeps OTP challenge records in Redis.
//
// # Design
//
// Each record is a Redis hash with a TTL slightly longer than the challenge
// lifetime, so an expired challenge is still observable as expired rather
// than missing. Every mutation runs as a Lua script: the attempt ceiling,
// the single-use consume and the one-live-record-per-email index are each
// enforced inside one script invocation.
//
// The email index key is derived inside the scripts, so record and index
// must live on the same Redis node.
//
// # What this package must NOT do
//
//   - Import marketauth.
//   - Log or expose plaintext codes.
//   - Compare code hashes. That happens in the engine, in constant time.
package stores
