package usercore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/usercore-dev/usercore/jwt"
	"github.com/usercore-dev/usercore/password"
)

// Builder assembles a Service. Collaborators the embedding application owns
// (UserStore, Delivery) are injected; everything else is wired from Config.
// A Builder is single-use: Build may only be called once.
type Builder struct {
	config      Config
	redisClient *redis.Client
	userStore   UserStore
	delivery    Delivery
	vault       CredentialVault
	auditSink   AuditSink
	built       bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero-value subsections are
// not filled back in; start from New's defaults and override fields instead
// when only a few knobs change.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the code and token stores.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redisClient = client
	return b
}

// WithUserStore sets the persistence collaborator. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

// WithDelivery sets the out-of-band delivery collaborator. Required.
func (b *Builder) WithDelivery(delivery Delivery) *Builder {
	b.delivery = delivery
	return b
}

// WithCredentialVault replaces the default argon2id vault.
func (b *Builder) WithCredentialVault(vault CredentialVault) *Builder {
	b.vault = vault
	return b
}

// WithAuditSink sets the destination for audit events. Without one, enabled
// auditing falls back to NoOpSink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, wires the stores and returns a ready
// Service. The caller owns the Service and must Close it.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redisClient == nil {
		return nil, errors.New("redis client is required")
	}
	if b.userStore == nil {
		return nil, errors.New("user store is required")
	}
	if b.delivery == nil {
		return nil, errors.New("delivery is required")
	}

	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	vault := b.vault
	if vault == nil {
		var err error
		vault, err = password.NewArgon2(password.Config{
			Memory:      b.config.Password.Memory,
			Time:        b.config.Password.Time,
			Parallelism: b.config.Password.Parallelism,
			SaltLength:  b.config.Password.SaltLength,
			KeyLength:   b.config.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
	}

	var jwtManager *jwt.Manager
	if b.config.JWT.Enabled {
		var err error
		jwtManager, err = jwt.NewManager(jwt.Config{
			AccessTTL:     b.config.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(b.config.JWT.SigningMethod),
			PrivateKey:    b.config.JWT.PrivateKey,
			PublicKey:     b.config.JWT.PublicKey,
			Issuer:        b.config.JWT.Issuer,
		})
		if err != nil {
			return nil, err
		}
	}

	service := &Service{
		config:     b.config,
		userStore:  b.userStore,
		delivery:   b.delivery,
		vault:      vault,
		codeStore:  newVerificationCodeStore(b.redisClient, b.config.Codes.RedisPrefix),
		tokenStore: newTokenStore(b.redisClient, b.config.Tokens.RedisPrefix),
		jwtManager: jwtManager,
		audit:      newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:    NewMetrics(b.config.Metrics),
	}

	b.built = true
	return service, nil
}
