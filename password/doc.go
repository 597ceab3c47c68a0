// Package password implements password hashing, verification and strength
// rules.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.Verify] reads the parameters from the stored hash, so raising the
// cost in [Config] never locks out existing accounts. [Argon2.NeedsUpgrade]
// tells the caller to re-hash on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other marketauth package.
//   - Log plaintext passwords.
package password
