// Package usercore is an embeddable account lifecycle engine: signup with
// email verification, password recovery and change, email change with
// confirmation, and opaque revocable bearer tokens.
//
// The package is storage-agnostic for user records. The embedding
// application supplies a UserStore and a Delivery implementation; usercore
// owns the verification-code and token state in Redis and drives the
// account state machine (unverified, verified, blocked) on top.
//
// Construct a Service with the Builder:
//
//	service, err := usercore.New().
//		WithRedis(redisClient).
//		WithUserStore(store).
//		WithDelivery(mailer).
//		Build()
//
// Verification codes are single-use and purpose-bound, and issuing a new
// code invalidates the previous one of the same purpose for the same user.
// Code and token secrets are never stored; only SHA-256 hashes are.
package usercore
