package usercore

import (
	"context"
	"errors"
)

// ForgotPassword issues a password-reset code for the account behind email
// and delivers it. The operation is enumeration-safe: an unknown or blocked
// address returns the same nil error on a comparable latency, and only the
// audit trail records the difference.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if err := s.ready(); err != nil {
		return err
	}

	normalized := normalizeEmail(email)
	s.metricInc(MetricPasswordResetRequest)

	record, err := s.userStore.FindByEmail(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrUserStoreNotFound) {
			mapped := mapUserStoreError(err)
			s.emitAudit(ctx, auditEventForgotPassword, false, "", mapped, nil)
			return mapped
		}

		if err := sleepEnumerationDelay(ctx); err != nil {
			return err
		}
		// Burn the same generation work as the found path.
		if _, _, _, genErr := generateCodeChallenge(s.config.Codes.Strategy, s.config.Codes.OTPDigits); genErr != nil {
			s.emitAudit(ctx, auditEventForgotPassword, false, "", ErrStoreUnavailable, nil)
			return ErrStoreUnavailable
		}
		s.emitAudit(ctx, auditEventForgotPassword, true, "", nil, func() map[string]string {
			return map[string]string{
				"email":            normalized,
				"enumeration_safe": "true",
			}
		})
		return nil
	}

	if record.State == StateBlocked {
		// Blocked accounts get no code, but the caller cannot tell.
		if err := sleepEnumerationDelay(ctx); err != nil {
			return err
		}
		s.emitAudit(ctx, auditEventForgotPassword, true, record.ID, nil, func() map[string]string {
			return map[string]string{
				"noop": "account_blocked",
			}
		})
		return nil
	}

	code, err := s.issueCode(ctx, PurposeForgotPassword, record.ID, "")
	if err != nil {
		s.emitAudit(ctx, auditEventForgotPassword, false, record.ID, err, nil)
		return err
	}

	s.deliver(auditEventForgotPassword, record.ID, func(ctx context.Context) error {
		return s.delivery.SendForgotPassword(ctx, record.Email, code)
	})

	s.emitAudit(ctx, auditEventForgotPassword, true, record.ID, nil, nil)
	return nil
}

// ResetPassword consumes a password-reset code and installs a new password.
// The code is consumed before the password policy runs, so a rejected
// password burns the code; the user must request a fresh one. On success all
// bearer tokens of the account are revoked when configured to do so.
func (s *Service) ResetPassword(ctx context.Context, code, newPassword string) error {
	if err := s.ready(); err != nil {
		return err
	}

	codeRecord, err := s.consumeCode(ctx, PurposeForgotPassword, code)
	if err != nil {
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventResetPassword, false, "", err, nil)
		return err
	}

	if len(newPassword) < s.config.Password.MinLength {
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventResetPassword, false, codeRecord.UserID, ErrWeakPassword, nil)
		return ErrWeakPassword
	}

	hash, err := s.vault.Hash(newPassword)
	if err != nil {
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventResetPassword, false, codeRecord.UserID, err, nil)
		return ErrServiceNotReady
	}

	record, err := s.userStore.FindByID(ctx, codeRecord.UserID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventResetPassword, false, codeRecord.UserID, mapped, nil)
		return mapped
	}
	if err := stateGate(record.State); err != nil {
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventResetPassword, false, record.ID, err, nil)
		return err
	}

	record.PasswordHash = hash
	if _, err := s.userStore.Update(ctx, record); err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricPasswordResetFailure)
		s.emitAudit(ctx, auditEventResetPassword, false, record.ID, mapped, nil)
		return mapped
	}

	if s.config.Tokens.RevokeOnPasswordReset {
		revoked, err := s.tokenStore.RevokeAllForUser(ctx, record.ID)
		if err != nil {
			s.emitAudit(ctx, auditEventResetPassword, false, record.ID, err, func() map[string]string {
				return map[string]string{
					"reason": "token_revocation_failed",
				}
			})
			return mapTokenStoreError(err)
		}
		s.metricAdd(MetricTokenRevoked, uint64(revoked))
	}

	s.metricInc(MetricPasswordResetSuccess)
	s.emitAudit(ctx, auditEventResetPassword, true, record.ID, nil, nil)
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// verifying the current one. Other sessions are revoked under the same
// configuration switch as ResetPassword.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := s.ready(); err != nil {
		return err
	}

	record, err := s.userStore.FindByID(ctx, userID)
	if err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, userID, mapped, nil)
		return mapped
	}
	if err := stateGate(record.State); err != nil {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, record.ID, err, nil)
		return err
	}

	ok, err := s.vault.Verify(oldPassword, record.PasswordHash)
	if err != nil {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, record.ID, err, nil)
		return ErrServiceNotReady
	}
	if !ok {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, record.ID, ErrBadCredentials, nil)
		return ErrBadCredentials
	}

	if len(newPassword) < s.config.Password.MinLength {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, record.ID, ErrWeakPassword, nil)
		return ErrWeakPassword
	}

	hash, err := s.vault.Hash(newPassword)
	if err != nil {
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, record.ID, err, nil)
		return ErrServiceNotReady
	}

	record.PasswordHash = hash
	if _, err := s.userStore.Update(ctx, record); err != nil {
		mapped := mapUserStoreError(err)
		s.metricInc(MetricPasswordChangeFailure)
		s.emitAudit(ctx, auditEventChangePassword, false, record.ID, mapped, nil)
		return mapped
	}

	if s.config.Tokens.RevokeOnPasswordReset {
		revoked, err := s.tokenStore.RevokeAllForUser(ctx, record.ID)
		if err != nil {
			s.emitAudit(ctx, auditEventChangePassword, false, record.ID, err, func() map[string]string {
				return map[string]string{
					"reason": "token_revocation_failed",
				}
			})
			return mapTokenStoreError(err)
		}
		s.metricAdd(MetricTokenRevoked, uint64(revoked))
	}

	s.metricInc(MetricPasswordChangeSuccess)
	s.emitAudit(ctx, auditEventChangePassword, true, record.ID, nil, nil)
	return nil
}
