package usercore

import (
	"context"
)

// FetchUserByID returns the client-safe view of a user.
func (s *Service) FetchUserByID(ctx context.Context, userID string) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	record, err := s.userStore.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserStoreError(err)
	}
	return userView(record), nil
}

// FetchUserByEmail returns the client-safe view of the user behind an email
// address. The address is normalized before lookup.
func (s *Service) FetchUserByEmail(ctx context.Context, email string) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	record, err := s.userStore.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, mapUserStoreError(err)
	}
	return userView(record), nil
}

// UpdateUser applies a partial update to a user. Nil fields are untouched.
// Roles and State are administrative: setting them without AsAdmin fails
// with ErrValidationFailed, and a State change must be a legal transition.
// Blocking an account revokes all of its bearer tokens.
func (s *Service) UpdateUser(ctx context.Context, userID string, req UpdateUserRequest) (*UserView, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	if !req.AsAdmin && (req.Roles != nil || req.State != nil) {
		s.emitAudit(ctx, auditEventUserUpdate, false, userID, ErrValidationFailed, func() map[string]string {
			return map[string]string{
				"reason": "admin_only_fields",
			}
		})
		return nil, ErrValidationFailed
	}

	record, err := s.userStore.FindByID(ctx, userID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.emitAudit(ctx, auditEventUserUpdate, false, userID, mapped, nil)
		return nil, mapped
	}

	var blocked bool
	if req.Name != nil {
		record.Name = *req.Name
	}
	if req.Roles != nil {
		record.Roles = append([]string(nil), (*req.Roles)...)
	}
	if req.State != nil && *req.State != record.State {
		if !CanTransition(record.State, *req.State) {
			s.emitAudit(ctx, auditEventUserUpdate, false, record.ID, ErrValidationFailed, func() map[string]string {
				return map[string]string{
					"reason": "illegal_transition",
					"from":   record.State.String(),
					"to":     req.State.String(),
				}
			})
			return nil, ErrValidationFailed
		}
		blocked = *req.State == StateBlocked
		record.State = *req.State
	}

	updated, err := s.userStore.Update(ctx, record)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.emitAudit(ctx, auditEventUserUpdate, false, record.ID, mapped, nil)
		return nil, mapped
	}

	if blocked {
		revoked, err := s.tokenStore.RevokeAllForUser(ctx, updated.ID)
		if err != nil {
			s.emitAudit(ctx, auditEventUserUpdate, false, updated.ID, err, func() map[string]string {
				return map[string]string{
					"reason": "token_revocation_failed",
				}
			})
			return nil, mapTokenStoreError(err)
		}
		s.metricAdd(MetricTokenRevoked, uint64(revoked))
	}

	s.metricInc(MetricUserUpdated)
	s.emitAudit(ctx, auditEventUserUpdate, true, updated.ID, nil, nil)
	return userView(updated), nil
}
