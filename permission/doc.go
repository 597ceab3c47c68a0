// Package permission holds the role and permission vocabulary of the
// marketplace: tag sets, per-business role bindings, and the catalogue of
// known permission tags.
//
// Authorization is fail-closed. [Bindings.Grants] returns false for unknown
// roles, unknown permissions and empty input. The [SuperAdminRole] sentinel
// is interpreted by the engine, never stored as a binding.
package permission
