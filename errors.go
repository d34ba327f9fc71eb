package usercore

import "errors"

var (
	// ErrDuplicateEmail is returned when a signup or email change targets an
	// address that already belongs to an account.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidOrExpiredCode is returned for any verification code that does
	// not exist, was already consumed, carries the wrong purpose, or is past
	// its expiry. The cases are deliberately indistinguishable.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired verification code")
	// ErrBadCredentials is returned when a supplied password does not match
	// the stored hash.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrWeakPassword is returned when a new password violates the password
	// policy.
	ErrWeakPassword = errors.New("password policy violation")
	// ErrNotVerified is returned for operations that require a verified
	// account, such as requesting an email change.
	ErrNotVerified = errors.New("account not verified")
	// ErrAccountBlocked is returned for operations attempted on a blocked
	// account.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrInvalidToken is returned when a bearer token does not exist, is
	// expired, is revoked, or belongs to a different user.
	ErrInvalidToken = errors.New("invalid token")
	// ErrValidationFailed is returned when an update violates a validation
	// invariant, including optimistic-concurrency conflicts on the user
	// record.
	ErrValidationFailed = errors.New("validation failed")
	// ErrNotFound is returned when the target user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrServiceNotReady is returned when the Service is missing a required
	// collaborator. It indicates a wiring bug, not a request problem.
	ErrServiceNotReady = errors.New("service not initialized")
	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUserStoreDuplicateEmail must be returned by UserStore.Create when
	// the email uniqueness constraint fires. The Service maps it to
	// ErrDuplicateEmail.
	ErrUserStoreDuplicateEmail = errors.New("user store duplicate email")
	// ErrUserStoreNotFound must be returned by UserStore lookups for missing
	// records. The Service maps it to ErrNotFound.
	ErrUserStoreNotFound = errors.New("user store record not found")
	// ErrUserStoreConflict must be returned by UserStore.Update when the
	// record version does not match (lost update). The Service maps it to
	// ErrValidationFailed.
	ErrUserStoreConflict = errors.New("user store version conflict")
)
