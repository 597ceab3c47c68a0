// Package jwt signs and parses the two credential kinds issued by
// marketauth: short-lived session credentials and long-lived refresh
// credentials. The kind travels in the "knd" claim and is checked on every
// parse, so one kind cannot stand in for the other.
package jwt
