package usercore

import (
	"context"
	"time"
)

// AccountState represents the lifecycle state of a user account.
type AccountState uint8

const (
	// StateUnverified is the initial state of every account created by
	// Signup. The user has proven nothing about the email address yet.
	StateUnverified AccountState = iota
	// StateVerified is reached by consuming a signup verification code.
	StateVerified
	// StateBlocked is set administratively. Blocked accounts cannot obtain
	// codes or tokens; the block is reversible through UpdateUser.
	StateBlocked
)

func (s AccountState) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateVerified:
		return "verified"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// CodePurpose identifies what a verification code proves. A code is only
// accepted by the operation matching its purpose.
type CodePurpose uint8

const (
	// PurposeSignupVerification codes confirm control of the signup email.
	PurposeSignupVerification CodePurpose = iota
	// PurposeForgotPassword codes authorize a password reset.
	PurposeForgotPassword
	// PurposeChangeEmail codes confirm control of a pending new email.
	PurposeChangeEmail
)

func (p CodePurpose) String() string {
	switch p {
	case PurposeSignupVerification:
		return "signup_verification"
	case PurposeForgotPassword:
		return "forgot_password"
	case PurposeChangeEmail:
		return "change_email"
	default:
		return "unknown"
	}
}

// UserRecord is the full account record exchanged with the UserStore.
// It carries the password hash and must never be handed to clients;
// use UserView for that.
type UserRecord struct {
	ID           string
	Email        string
	PendingEmail string
	PasswordHash string
	Name         string
	Roles        []string
	State        AccountState
	Version      uint32
}

// UserView is the client-safe projection of a user. It never contains the
// password hash.
type UserView struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	PendingEmail string       `json:"pendingEmail,omitempty"`
	Name         string       `json:"name,omitempty"`
	Roles        []string     `json:"roles,omitempty"`
	State        AccountState `json:"state"`
}

// CreateUserInput is the input for UserStore.Create.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Name         string
	Roles        []string
	State        AccountState
}

// UserStore is the persistence collaborator. Implementations must enforce
// email uniqueness atomically in Create (returning
// ErrUserStoreDuplicateEmail) and reject stale writes in Update by
// comparing Version (returning ErrUserStoreConflict). Emails passed in are
// already normalized to lower case.
type UserStore interface {
	FindByID(ctx context.Context, id string) (UserRecord, error)
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	Create(ctx context.Context, input CreateUserInput) (UserRecord, error)
	Update(ctx context.Context, record UserRecord) (UserRecord, error)
}

// Delivery sends verification codes to the user. Calls are fire-and-forget
// from the Service's perspective: they happen after the relevant state
// change is persisted, under a bounded context, and a failure is audited
// but never surfaced to the caller of the account operation.
type Delivery interface {
	SendVerification(ctx context.Context, email, code string) error
	SendForgotPassword(ctx context.Context, email, code string) error
	SendChangeEmail(ctx context.Context, newEmail, code string) error
}

// CredentialVault hashes and verifies passwords. The default implementation
// is password.Argon2; replace it with Builder.WithCredentialVault.
type CredentialVault interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

// SignupRequest is the input for Service.Signup.
type SignupRequest struct {
	Email    string
	Password string
	Name     string
}

// UpdateUserRequest enumerates the mutable fields of a user. Nil pointers
// leave the field untouched. Roles and State are admin-only; setting them
// without AsAdmin fails with ErrValidationFailed.
type UpdateUserRequest struct {
	Name    *string
	Roles   *[]string
	State   *AccountState
	AsAdmin bool
}

// TokenDescriptor is returned by Service.CreateToken. Token is the opaque
// revocable bearer credential; AccessToken is a short-lived signed JWT
// minted alongside it when the JWT subsystem is enabled.
type TokenDescriptor struct {
	Token       string
	AccessToken string
	Family      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// ClientContext exposes the non-secret configuration facts a client needs
// to render signup and recovery flows.
type ClientContext struct {
	SignupCodeTTL      time.Duration
	ForgotPasswordTTL  time.Duration
	ChangeEmailTTL     time.Duration
	PasswordMinLength  int
	AccessTokensIssued bool
}
