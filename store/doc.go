// Package store defines the persistence contract marketauth depends on and
// the records that cross it.
//
// Adapters translate their native errors at the boundary: a missing row is
// [ErrNotFound], a unique violation is [ErrDuplicate], and a conditional
// write that lost a race is [ErrConditionFailed]. Any other error is treated
// by the engine as the store being unavailable.
//
// Implementations live in store/memory and store/postgres. OTP records may
// instead be served from Redis, see the engine builder.
package store
