// Package jwt mints and validates the short-lived signed access tokens
// optionally issued alongside opaque bearer tokens. The opaque bearer stays
// the revocable source of truth; the JWT only lets callers skip a store
// round-trip for its short lifetime.
package jwt
