package usercore

import (
	"errors"
	"time"
)

// Config defines the tunables of a Service. Zero values are filled in by
// defaultConfig; Build validates the final result.
type Config struct {
	Codes    CodeConfig
	Password PasswordConfig
	Tokens   TokenConfig
	JWT      JWTConfig
	Delivery DeliveryConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// CodeStrategyType selects the shape of issued verification codes.
type CodeStrategyType int

const (
	// CodeToken issues an opaque 48-byte id.secret value (default).
	CodeToken CodeStrategyType = iota
	// CodeUUID issues a random UUID string.
	CodeUUID
	// CodeOTP issues an id-prefixed numeric one-time password, suited to
	// delivery channels where the user retypes the code.
	CodeOTP
)

// CodeConfig controls verification-code issuance for all three purposes.
// Signup codes are long-lived so a user can come back to the mail days
// later; recovery and email-change codes are short-lived.
type CodeConfig struct {
	Strategy          CodeStrategyType
	OTPDigits         int
	SignupTTL         time.Duration
	ForgotPasswordTTL time.Duration
	ChangeEmailTTL    time.Duration
	MaxAttempts       int
	RedisPrefix       string
}

// PasswordConfig carries the argon2id parameters for the default
// CredentialVault plus the policy minimum enforced before hashing.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// TokenConfig controls opaque bearer tokens. TTL of zero means tokens live
// until explicitly revoked.
type TokenConfig struct {
	TTL                   time.Duration
	DefaultFamily         string
	RevokeOnPasswordReset bool
	RedisPrefix           string
}

// JWTConfig enables the optional signed access token minted alongside the
// opaque bearer on CreateToken. Disabled unless Enabled is set.
type JWTConfig struct {
	Enabled       bool
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// DeliveryConfig bounds the out-of-band delivery call. The Service never
// lets delivery latency or failure touch the primary operation.
type DeliveryConfig struct {
	Timeout time.Duration
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Codes: CodeConfig{
			Strategy:          CodeToken,
			OTPDigits:         6,
			SignupTTL:         5 * 24 * time.Hour,
			ForgotPasswordTTL: 1 * time.Hour,
			ChangeEmailTTL:    2 * time.Hour,
			MaxAttempts:       5,
			RedisPrefix:       "uvc",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		Tokens: TokenConfig{
			TTL:                   0,
			DefaultFamily:         "default",
			RevokeOnPasswordReset: true,
			RedisPrefix:           "utk",
		},
		JWT: JWTConfig{
			Enabled:       false,
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Delivery: DeliveryConfig{
			Timeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations that would weaken the code protocol or
// leave a subsystem half-wired.
func (c *Config) Validate() error {
	switch c.Codes.Strategy {
	case CodeToken, CodeUUID:
	case CodeOTP:
		if c.Codes.OTPDigits < 6 || c.Codes.OTPDigits > 10 {
			return errors.New("Codes.OTPDigits must be between 6 and 10")
		}
	default:
		return errors.New("unknown code strategy")
	}

	if c.Codes.SignupTTL <= 0 {
		return errors.New("Codes.SignupTTL must be positive")
	}
	if c.Codes.ForgotPasswordTTL <= 0 {
		return errors.New("Codes.ForgotPasswordTTL must be positive")
	}
	if c.Codes.ChangeEmailTTL <= 0 {
		return errors.New("Codes.ChangeEmailTTL must be positive")
	}
	if c.Codes.MaxAttempts <= 0 {
		return errors.New("Codes.MaxAttempts must be positive")
	}
	if c.Codes.RedisPrefix == "" {
		return errors.New("Codes.RedisPrefix must not be empty")
	}

	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be >= 8")
	}

	if c.Tokens.TTL < 0 {
		return errors.New("Tokens.TTL must not be negative")
	}
	if c.Tokens.DefaultFamily == "" {
		return errors.New("Tokens.DefaultFamily must not be empty")
	}
	if c.Tokens.RedisPrefix == "" {
		return errors.New("Tokens.RedisPrefix must not be empty")
	}

	if c.JWT.Enabled {
		if c.JWT.AccessTTL <= 0 {
			return errors.New("JWT.AccessTTL must be positive when JWT is enabled")
		}
		switch c.JWT.SigningMethod {
		case "ed25519", "hs256":
		default:
			return errors.New("JWT.SigningMethod must be ed25519 or hs256")
		}
	}

	if c.Delivery.Timeout <= 0 {
		return errors.New("Delivery.Timeout must be positive")
	}

	return nil
}

// codeTTL maps a purpose to its configured lifetime.
func (c *Config) codeTTL(purpose CodePurpose) time.Duration {
	switch purpose {
	case PurposeSignupVerification:
		return c.Codes.SignupTTL
	case PurposeForgotPassword:
		return c.Codes.ForgotPasswordTTL
	case PurposeChangeEmail:
		return c.Codes.ChangeEmailTTL
	default:
		return 0
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
