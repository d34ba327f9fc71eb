package usercore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/usercore-dev/usercore/internal"
)

// CreateToken issues an opaque revocable bearer token for a user, tagged
// with a family so an application can revoke one class of sessions without
// touching the others. An empty family falls back to the configured default.
// Any non-blocked account may hold tokens; an unverified account keeps its
// sessions working while the verification mail is outstanding. When the JWT
// subsystem is enabled a short-lived signed access token is minted
// alongside.
func (s *Service) CreateToken(ctx context.Context, userID, family string) (*TokenDescriptor, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	record, err := s.userStore.FindByID(ctx, userID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.emitAudit(ctx, auditEventTokenCreate, false, userID, mapped, nil)
		return nil, mapped
	}
	if err := stateGate(record.State); err != nil {
		s.emitAudit(ctx, auditEventTokenCreate, false, record.ID, err, nil)
		return nil, err
	}

	if family == "" {
		family = s.config.Tokens.DefaultFamily
	}

	tokenID, err := internal.NewCodeID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	secret, err := internal.NewTokenSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	bearer, err := internal.EncodeBearer(tokenID.String(), secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	issuedAt := time.Now()
	var expiresAt time.Time
	stored := &tokenRecord{
		IssuedAt:   issuedAt.Unix(),
		UserID:     record.ID,
		Family:     family,
		SecretHash: internal.HashTokenSecret(secret),
	}
	if s.config.Tokens.TTL > 0 {
		expiresAt = issuedAt.Add(s.config.Tokens.TTL)
		stored.ExpiresAt = expiresAt.Unix()
	}

	if err := s.tokenStore.Save(ctx, tokenID.String(), stored); err != nil {
		mapped := mapTokenStoreError(err)
		s.emitAudit(ctx, auditEventTokenCreate, false, record.ID, mapped, nil)
		return nil, mapped
	}

	descriptor := &TokenDescriptor{
		Token:     bearer,
		Family:    family,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}

	if s.jwtManager != nil {
		access, err := s.jwtManager.CreateAccess(record.ID, family)
		if err != nil {
			// The bearer is already persisted; roll it back rather than hand
			// out a half-issued credential.
			_, _ = s.tokenStore.Revoke(ctx, tokenID.String(), record.ID)
			s.emitAudit(ctx, auditEventTokenCreate, false, record.ID, err, nil)
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		descriptor.AccessToken = access
	}

	s.metricInc(MetricTokenCreated)
	s.emitAudit(ctx, auditEventTokenCreate, true, record.ID, nil, func() map[string]string {
		return map[string]string{
			"family": family,
		}
	})
	return descriptor, nil
}

// RemoveToken revokes one bearer token of a user. A token that does not
// exist, is expired, or belongs to another user fails with ErrInvalidToken;
// the caller cannot distinguish those cases.
func (s *Service) RemoveToken(ctx context.Context, userID, token string) error {
	if err := s.ready(); err != nil {
		return err
	}

	tokenID, _, err := internal.DecodeBearer(token)
	if err != nil {
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, ErrInvalidToken, nil)
		return ErrInvalidToken
	}

	record, err := s.tokenStore.Get(ctx, tokenID)
	if err != nil {
		mapped := mapTokenStoreError(err)
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, mapped, nil)
		return mapped
	}
	if record.UserID != userID {
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, ErrInvalidToken, func() map[string]string {
			return map[string]string{
				"reason": "ownership_mismatch",
			}
		})
		return ErrInvalidToken
	}

	existed, err := s.tokenStore.Revoke(ctx, tokenID, userID)
	if err != nil {
		mapped := mapTokenStoreError(err)
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, mapped, nil)
		return mapped
	}
	if !existed {
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, ErrInvalidToken, nil)
		return ErrInvalidToken
	}

	s.metricInc(MetricTokenRevoked)
	s.emitAudit(ctx, auditEventTokenRemove, true, userID, nil, func() map[string]string {
		return map[string]string{
			"family": record.Family,
		}
	})
	return nil
}

// RemoveTokenFamily revokes every token of a user in one family, returning
// how many were revoked.
func (s *Service) RemoveTokenFamily(ctx context.Context, userID, family string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if family == "" {
		family = s.config.Tokens.DefaultFamily
	}

	revoked, err := s.tokenStore.RevokeFamily(ctx, userID, family)
	if err != nil {
		mapped := mapTokenStoreError(err)
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, mapped, nil)
		return 0, mapped
	}

	s.metricAdd(MetricTokenRevoked, uint64(revoked))
	s.emitAudit(ctx, auditEventTokenRemove, true, userID, nil, func() map[string]string {
		return map[string]string{
			"family": family,
			"bulk":   "family",
		}
	})
	return revoked, nil
}

// RemoveAllTokens revokes every bearer token of a user.
func (s *Service) RemoveAllTokens(ctx context.Context, userID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	revoked, err := s.tokenStore.RevokeAllForUser(ctx, userID)
	if err != nil {
		mapped := mapTokenStoreError(err)
		s.emitAudit(ctx, auditEventTokenRemove, false, userID, mapped, nil)
		return 0, mapped
	}

	s.metricAdd(MetricTokenRevoked, uint64(revoked))
	s.emitAudit(ctx, auditEventTokenRemove, true, userID, nil, func() map[string]string {
		return map[string]string{
			"bulk": "all",
		}
	})
	return revoked, nil
}

// Authenticate resolves a bearer token to the user it belongs to. Revoked,
// expired, malformed and unknown tokens all fail with ErrInvalidToken, and
// blocked accounts cannot authenticate even with a live token.
func (s *Service) Authenticate(ctx context.Context, token string) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	tokenID, secret, err := internal.DecodeBearer(token)
	if err != nil {
		s.metricInc(MetricTokenAuthFailure)
		s.emitAudit(ctx, auditEventTokenAuth, false, "", ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	tokenRec, err := s.tokenStore.Authenticate(ctx, tokenID, internal.HashTokenSecret(secret))
	if err != nil {
		mapped := mapTokenStoreError(err)
		s.metricInc(MetricTokenAuthFailure)
		s.emitAudit(ctx, auditEventTokenAuth, false, "", mapped, nil)
		return nil, mapped
	}

	record, err := s.userStore.FindByID(ctx, tokenRec.UserID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricTokenAuthFailure)
		if errors.Is(mapped, ErrNotFound) {
			mapped = ErrInvalidToken
		}
		s.emitAudit(ctx, auditEventTokenAuth, false, tokenRec.UserID, mapped, nil)
		return nil, mapped
	}
	if err := stateGate(record.State); err != nil {
		s.metricInc(MetricTokenAuthFailure)
		s.emitAudit(ctx, auditEventTokenAuth, false, record.ID, err, nil)
		return nil, err
	}

	s.metricInc(MetricTokenAuthSuccess)
	s.emitAudit(ctx, auditEventTokenAuth, true, record.ID, nil, func() map[string]string {
		return map[string]string{
			"family": tokenRec.Family,
		}
	})
	return userView(record), nil
}

// ActiveTokens lists the live tokens of a user as descriptors without the
// secret values; only issue and expiry facts are exposed.
func (s *Service) ActiveTokens(ctx context.Context, userID string) ([]TokenDescriptor, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	records, err := s.tokenStore.ListForUser(ctx, userID)
	if err != nil {
		return nil, mapTokenStoreError(err)
	}

	descriptors := make([]TokenDescriptor, 0, len(records))
	for _, record := range records {
		descriptor := TokenDescriptor{
			Family:   record.Family,
			IssuedAt: time.Unix(record.IssuedAt, 0),
		}
		if record.ExpiresAt > 0 {
			descriptor.ExpiresAt = time.Unix(record.ExpiresAt, 0)
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

func mapTokenStoreError(err error) error {
	switch {
	case errors.Is(err, errTokenNotFound),
		errors.Is(err, errTokenSecretMismatch):
		return ErrInvalidToken
	case errors.Is(err, errTokenRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
